package vectorindex

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/database"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 2}))
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func storeRecord(t *testing.T, db *database.DB, link string, vec []float64) string {
	t.Helper()
	ctx := context.Background()
	id, err := db.InsertRecord(ctx, &database.Record{
		SourceLink: link, OriginalTitle: link, Category: "news", DetectedLanguage: "en",
		TitleEn: "T " + link, TitleEs: link,
	})
	require.NoError(t, err)
	require.NoError(t, db.SaveEmbedding(ctx, id, database.ContentTypeRecord, "test", vec))
	return id
}

func TestSQLiteSearch(t *testing.T) {
	db := openTestDB(t)
	near := storeRecord(t, db, "https://a.com", []float64{1, 0.05, 0})
	storeRecord(t, db, "https://b.com", []float64{0, 1, 0})
	nearer := storeRecord(t, db, "https://c.com", []float64{1, 0.01, 0})

	idx := NewSQLite(db)
	matches, err := idx.Search(context.Background(), []float64{1, 0, 0}, 0.9, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, nearer, matches[0].ID)
	assert.Equal(t, near, matches[1].ID)
	assert.Equal(t, "https://c.com", matches[0].Link)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	matches, err = idx.Search(context.Background(), []float64{1, 0, 0}, 0.9, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

type failingSource struct{}

func (failingSource) RecentEmbeddings(context.Context, time.Time) ([]database.StoredEmbedding, error) {
	return nil, errors.New("disk gone")
}

func TestSQLiteSearchError(t *testing.T) {
	_, err := NewSQLite(failingSource{}).Search(context.Background(), []float64{1}, 0.9, 5)
	assert.Error(t, err)
}

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, nil
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	existing []string
	created  []*pb.CreateCollection
	lists    int
}

func (m *mockCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	m.lists++
	var descs []*pb.CollectionDescription
	for _, n := range m.existing {
		descs = append(descs, &pb.CollectionDescription{Name: n})
	}
	return &pb.ListCollectionsResponse{Collections: descs}, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in)
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestQdrantUpsertCreatesCollectionOnce(t *testing.T) {
	points := &mockPoints{}
	cols := &mockCollections{}
	q := &Qdrant{points: points, collections: cols, collection: "records"}

	for i := 0; i < 2; i++ {
		require.NoError(t, q.Upsert(context.Background(), Point{
			ID: "6f1d2c1e-7b39-4d6c-9a43-1d8f0f2b9c11", Link: "https://a.com", Title: "A", Vector: []float64{0.5, 0.5, 0},
		}))
	}
	require.Len(t, cols.created, 1)
	assert.Equal(t, uint64(3), cols.created[0].GetVectorsConfig().GetParams().GetSize())
	assert.Equal(t, 1, cols.lists)
	require.Len(t, points.upserts, 2)
	pt := points.upserts[0].GetPoints()[0]
	assert.Equal(t, "https://a.com", pt.GetPayload()["link"].GetStringValue())
	assert.NoError(t, q.Close())
}

func TestQdrantSearch(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "id-1"}},
			Score: 0.95,
			Payload: map[string]*pb.Value{
				"link": {Kind: &pb.Value_StringValue{StringValue: "https://a.com"}},
			},
		},
	}}}
	q := &Qdrant{points: points, collections: &mockCollections{}, collection: "records"}

	matches, err := q.Search(context.Background(), []float64{1, 0}, 0.93, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "id-1", matches[0].ID)
	assert.Equal(t, "https://a.com", matches[0].Link)
	assert.InDelta(t, 0.95, matches[0].Score, 1e-6)
	assert.InDelta(t, 0.93, float64(points.searchReq.GetScoreThreshold()), 1e-6)
	assert.Equal(t, uint64(3), points.searchReq.GetLimit())
}

func TestQdrantSearchError(t *testing.T) {
	q := &Qdrant{points: &mockPoints{searchErr: errors.New("unavailable")}, collections: &mockCollections{}}
	_, err := q.Search(context.Background(), []float64{1}, 0.9, 1)
	assert.Error(t, err)
}

func TestQdrantSearchUnimplemented(t *testing.T) {
	q := &Qdrant{points: &mockPoints{searchErr: status.Error(codes.Unimplemented, "unknown service qdrant.Points")}, collections: &mockCollections{}}
	_, err := q.Search(context.Background(), []float64{1}, 0.9, 1)
	assert.ErrorIs(t, err, ErrUnsupported)

	q = &Qdrant{points: &mockPoints{searchErr: status.Error(codes.Unavailable, "connection refused")}, collections: &mockCollections{}}
	_, err = q.Search(context.Background(), []float64{1}, 0.9, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupported)
}

func TestToFloat32(t *testing.T) {
	out := toFloat32([]float64{1.5, math.Pi})
	assert.Equal(t, float32(1.5), out[0])
	assert.InDelta(t, math.Pi, float64(out[1]), 1e-6)
}

package vectorindex

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant is an Index backed by a Qdrant collection over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string

	mu      sync.Mutex
	ensured bool
}

// NewQdrant connects to Qdrant at addr. The collection is created lazily on
// first write, sized to the first vector.
func NewQdrant(addr, collection string) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: dial qdrant %s: %w", addr, err)
	}
	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *Qdrant) ensureCollection(ctx context.Context, dims int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorindex: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			q.ensured = true
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: create collection %s: %w", q.collection, err)
	}
	q.ensured = true
	return nil
}

// Upsert implements Index. Point IDs must be UUIDs.
func (q *Qdrant) Upsert(ctx context.Context, p Point) error {
	if err := q.ensureCollection(ctx, len(p.Vector)); err != nil {
		return err
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: toFloat32(p.Vector)}},
			},
			Payload: map[string]*pb.Value{
				"link":  {Kind: &pb.Value_StringValue{StringValue: p.Link}},
				"title": {Kind: &pb.Value_StringValue{StringValue: p.Title}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert %s: %w", p.ID, err)
	}
	return nil
}

// Search implements Index.
func (q *Qdrant) Search(ctx context.Context, vec []float64, threshold float64, limit int) ([]Match, error) {
	th := float32(threshold)
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         toFloat32(vec),
		Limit:          uint64(limit),
		ScoreThreshold: &th,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if status.Code(err) == codes.Unimplemented {
		return nil, fmt.Errorf("vectorindex: search: %w: %v", ErrUnsupported, err)
	}
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		payload := r.GetPayload()
		matches = append(matches, Match{
			ID:    r.GetId().GetUuid(),
			Link:  payload["link"].GetStringValue(),
			Title: payload["title"].GetStringValue(),
			Score: float64(r.GetScore()),
		})
	}
	return sortAndCap(matches, limit), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

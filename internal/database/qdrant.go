package database

import (
	"context"
	"fmt"
	"log"
	"sort"

	"docman/internal/coordinator"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantStore implements coordinator.VectorStore over Qdrant's gRPC API.
// The chunk id is used as the point id, which makes upserts idempotent:
// re-upserting the same hint replaces the vector in place.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	collection  string
	dimension   uint64
}

// NewQdrantStore connects to Qdrant and ensures the collection exists
func NewQdrantStore(ctx context.Context, addr, collection string, dimension uint64) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	store := &QdrantStore{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		collection:  collection,
		dimension:   dimension,
	}
	if err := store.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	log.Println("✅ Qdrant connected")
	return store, nil
}

// Close releases the gRPC connection
func (q *QdrantStore) Close() error {
	return q.conn.Close()
}

// Ping verifies connectivity for health probes
func (q *QdrantStore) Ping(ctx context.Context) error {
	_, err := q.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	return err
}

func (q *QdrantStore) ensureCollection(ctx context.Context) error {
	collections, err := q.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range collections.GetCollections() {
		if col.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     q.dimension,
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}
	log.Printf("✅ Qdrant collection %s created (dim=%d, cosine)", q.collection, q.dimension)
	return nil
}

func vectorErr(err error) error {
	if err == nil {
		return nil
	}
	return coordinator.ErrBackendUnavailable("qdrant", err)
}

func pointID(id string) *qdrantclient.PointId {
	return &qdrantclient.PointId{
		PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: id},
	}
}

// Upsert writes an embedding under the hint id and returns it as the vector id
func (q *QdrantStore) Upsert(ctx context.Context, hintID string, embedding []float32, payload coordinator.VectorPayload) (string, error) {
	if len(embedding) != int(q.dimension) {
		return "", coordinator.ErrInvalid(
			fmt.Sprintf("embedding dimension %d does not match collection dimension %d", len(embedding), q.dimension))
	}

	wait := true
	_, err := q.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*qdrantclient.PointStruct{{
			Id: pointID(hintID),
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: embedding},
				},
			},
			Payload: map[string]*qdrantclient.Value{
				"chunk_id":    {Kind: &qdrantclient.Value_StringValue{StringValue: payload.ChunkID}},
				"document_id": {Kind: &qdrantclient.Value_StringValue{StringValue: payload.DocumentID}},
				"session_id":  {Kind: &qdrantclient.Value_StringValue{StringValue: payload.SessionID}},
				"text":        {Kind: &qdrantclient.Value_StringValue{StringValue: payload.Text}},
			},
		}},
	})
	if err != nil {
		return "", vectorErr(err)
	}
	return hintID, nil
}

func keywordCondition(key, value string) *qdrantclient.Condition {
	return &qdrantclient.Condition{
		ConditionOneOf: &qdrantclient.Condition_Field{
			Field: &qdrantclient.FieldCondition{
				Key: key,
				Match: &qdrantclient.Match{
					MatchValue: &qdrantclient.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// Search returns the top-k hits for the embedding, filtered by session and
// optionally by document, in descending score order with a stable tie-break
// on vector id
func (q *QdrantStore) Search(ctx context.Context, embedding []float32, filter coordinator.VectorFilter, topK int) ([]coordinator.VectorHit, error) {
	var must []*qdrantclient.Condition
	if filter.SessionID != "" {
		must = append(must, keywordCondition("session_id", filter.SessionID))
	}
	if filter.DocumentID != "" {
		must = append(must, keywordCondition("document_id", filter.DocumentID))
	}

	req := &qdrantclient.SearchPoints{
		CollectionName: q.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if len(must) > 0 {
		req.Filter = &qdrantclient.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, vectorErr(err)
	}

	hits := make([]coordinator.VectorHit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		payload := point.GetPayload()
		hits = append(hits, coordinator.VectorHit{
			VectorID: point.GetId().GetUuid(),
			Score:    point.GetScore(),
			Payload: coordinator.VectorPayload{
				ChunkID:    payload["chunk_id"].GetStringValue(),
				DocumentID: payload["document_id"].GetStringValue(),
				SessionID:  payload["session_id"].GetStringValue(),
				Text:       payload["text"].GetStringValue(),
			},
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].VectorID < hits[j].VectorID
	})
	return hits, nil
}

// Delete removes points by id; unknown ids are ignored by Qdrant
func (q *QdrantStore) Delete(ctx context.Context, vectorIDs []string) error {
	if len(vectorIDs) == 0 {
		return nil
	}
	ids := make([]*qdrantclient.PointId, len(vectorIDs))
	for i, id := range vectorIDs {
		ids[i] = pointID(id)
	}
	wait := true
	_, err := q.points.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Points{
				Points: &qdrantclient.PointsIdsList{Ids: ids},
			},
		},
	})
	return vectorErr(err)
}

// ListIDs scrolls the whole collection and returns every point id. Used by
// the reconciliation sweep; payloads are not fetched.
func (q *QdrantStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	limit := uint32(512)
	var offset *qdrantclient.PointId

	for {
		resp, err := q.points.Scroll(ctx, &qdrantclient.ScrollPoints{
			CollectionName: q.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &qdrantclient.WithPayloadSelector{
				SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: false},
			},
		})
		if err != nil {
			return nil, vectorErr(err)
		}
		for _, point := range resp.GetResult() {
			ids = append(ids, point.GetId().GetUuid())
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return ids, nil
		}
	}
}

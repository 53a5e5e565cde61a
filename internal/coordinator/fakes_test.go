package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"docman/internal/models"
)

// fakeRelational is an in-memory RelationalStore with per-operation failure
// injection via the fail map (operation name -> error, persistent until cleared).
type fakeRelational struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	documents map[string]*models.Document
	chunks    map[string]*models.Chunk
	fail      map[string]error
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{
		sessions:  make(map[string]*models.Session),
		documents: make(map[string]*models.Document),
		chunks:    make(map[string]*models.Chunk),
		fail:      make(map[string]error),
	}
}

func (f *fakeRelational) failWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeRelational) failure(op string) error {
	return f.fail[op]
}

func (f *fakeRelational) CreateSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateSession"); err != nil {
		return err
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeRelational) GetSession(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GetSession"); err != nil {
		return nil, err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrNotFound("session", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRelational) UpdateSession(ctx context.Context, id string, mergeMetadata map[string]any, expiresAt *time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("UpdateSession"); err != nil {
		return nil, err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrNotFound("session", id)
	}
	if expiresAt != nil && s.Status != models.SessionActive {
		return nil, ErrSessionInactive(id, string(s.Status))
	}
	s.MergeMetadata(mergeMetadata)
	if expiresAt != nil {
		s.ExpiresAt = *expiresAt
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRelational) CompareAndSetSessionStatus(ctx context.Context, id string, expected, next models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CompareAndSetSessionStatus"); err != nil {
		return err
	}
	s, ok := f.sessions[id]
	if !ok {
		return ErrNotFound("session", id)
	}
	if s.Status != expected {
		return ErrConflict("session", id, "status is "+string(s.Status))
	}
	s.Status = next
	return nil
}

func (f *fakeRelational) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteSession"); err != nil {
		return err
	}
	if _, ok := f.sessions[id]; !ok {
		return ErrNotFound("session", id)
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeRelational) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.Session, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListSessions"); err != nil {
		return nil, 0, err
	}
	var matched []*models.Session
	for _, s := range f.sessions {
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if !filter.ExpiresBefore.IsZero() && !s.ExpiresAt.Before(filter.ExpiresBefore) {
			continue
		}
		cp := *s
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (f *fakeRelational) CreateDocument(ctx context.Context, d *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateDocument"); err != nil {
		return err
	}
	cp := *d
	f.documents[d.ID] = &cp
	return nil
}

func (f *fakeRelational) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GetDocument"); err != nil {
		return nil, err
	}
	d, ok := f.documents[id]
	if !ok {
		return nil, ErrNotFound("document", id)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRelational) FindDocumentByHash(ctx context.Context, sessionID, contentHash string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("FindDocumentByHash"); err != nil {
		return nil, err
	}
	for _, d := range f.documents {
		if d.SessionID == sessionID && d.ContentHash == contentHash && d.Status == models.DocumentStored {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound("document", contentHash)
}

func (f *fakeRelational) CompareAndSetDocumentStatus(ctx context.Context, id string, expected, next models.DocumentStatus, storageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CompareAndSetDocumentStatus"); err != nil {
		return err
	}
	d, ok := f.documents[id]
	if !ok {
		return ErrNotFound("document", id)
	}
	if d.Status != expected {
		return ErrConflict("document", id, "status is "+string(d.Status))
	}
	d.Status = next
	if storageKey != "" {
		d.StorageKey = storageKey
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeRelational) ListDocuments(ctx context.Context, sessionID string, limit, offset int) ([]*models.Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListDocuments"); err != nil {
		return nil, 0, err
	}
	var matched []*models.Document
	for _, d := range f.documents {
		if d.SessionID == sessionID {
			cp := *d
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	if offset > 0 && offset < len(matched) {
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (f *fakeRelational) UpdateDocumentMetadata(ctx context.Context, id string, mergeMetadata map[string]any) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("UpdateDocumentMetadata"); err != nil {
		return nil, err
	}
	d, ok := f.documents[id]
	if !ok {
		return nil, ErrNotFound("document", id)
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	for k, v := range mergeMetadata {
		d.Metadata[k] = v
	}
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	return &cp, nil
}

func (f *fakeRelational) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteDocument"); err != nil {
		return err
	}
	if _, ok := f.documents[id]; !ok {
		return ErrNotFound("document", id)
	}
	delete(f.documents, id)
	return nil
}

func (f *fakeRelational) DeleteDocumentsBySession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteDocumentsBySession"); err != nil {
		return err
	}
	for id, d := range f.documents {
		if d.SessionID == sessionID {
			delete(f.documents, id)
		}
	}
	return nil
}

func (f *fakeRelational) InsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("InsertChunks"); err != nil {
		return err
	}
	for _, c := range chunks {
		cp := *c
		f.chunks[c.ID] = &cp
	}
	return nil
}

func (f *fakeRelational) ListChunks(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListChunks"); err != nil {
		return nil, err
	}
	var matched []*models.Chunk
	for _, c := range f.chunks {
		if c.DocumentID == documentID {
			cp := *c
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SequenceIndex < matched[j].SequenceIndex })
	return matched, nil
}

func (f *fakeRelational) ListChunksBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ListChunksBySession"); err != nil {
		return nil, err
	}
	var matched []*models.Chunk
	for _, c := range f.chunks {
		if c.SessionID == sessionID {
			cp := *c
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

func (f *fakeRelational) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("GetChunk"); err != nil {
		return nil, err
	}
	c, ok := f.chunks[id]
	if !ok {
		return nil, ErrNotFound("chunk", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRelational) SetChunkVector(ctx context.Context, id, vectorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetChunkVector"); err != nil {
		return err
	}
	c, ok := f.chunks[id]
	if !ok {
		return ErrNotFound("chunk", id)
	}
	c.VectorID = vectorID
	return nil
}

func (f *fakeRelational) MarkChunkDegraded(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("MarkChunkDegraded"); err != nil {
		return err
	}
	c, ok := f.chunks[id]
	if !ok {
		return ErrNotFound("chunk", id)
	}
	c.Status = models.ChunkDegraded
	c.VectorID = ""
	return nil
}

func (f *fakeRelational) DeleteChunks(ctx context.Context, documentID string, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteChunks"); err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok && c.DocumentID == documentID {
			delete(f.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeRelational) DeleteChunksBySession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteChunksBySession"); err != nil {
		return err
	}
	for id, c := range f.chunks {
		if c.SessionID == sessionID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeRelational) CountSessionContents(ctx context.Context, sessionID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CountSessionContents"); err != nil {
		return 0, 0, err
	}
	docs, chunks := 0, 0
	for _, d := range f.documents {
		if d.SessionID == sessionID {
			docs++
		}
	}
	for _, c := range f.chunks {
		if c.SessionID == sessionID {
			chunks++
		}
	}
	return docs, chunks, nil
}

func (f *fakeRelational) HasStorageKey(ctx context.Context, storageKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("HasStorageKey"); err != nil {
		return false, err
	}
	for _, d := range f.documents {
		if d.StorageKey == storageKey {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRelational) ResolveVectorOwner(ctx context.Context, vectorID string) (*models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("ResolveVectorOwner"); err != nil {
		return nil, err
	}
	for _, c := range f.chunks {
		if c.VectorID == vectorID || c.ID == vectorID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound("chunk", vectorID)
}

func (f *fakeRelational) Ping(ctx context.Context) error {
	return f.failure("Ping")
}

// fakeBlob is an in-memory content-addressed BlobStore.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
	puts    int
	deletes int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Put(ctx context.Context, data []byte, contentHash, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return "", f.putErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objects[contentHash] = cp
	return contentHash, nil
}

func (f *fakeBlob) Get(ctx context.Context, storageKey string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[storageKey]
	if !ok {
		return nil, ErrNotFound("blob", storageKey)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (f *fakeBlob) Delete(ctx context.Context, storageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.objects, storageKey)
	return nil
}

func (f *fakeBlob) ListKeys(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeBlob) Ping(ctx context.Context) error { return nil }

func (f *fakeBlob) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakePoint struct {
	embedding []float32
	payload   VectorPayload
}

// fakeVector is an in-memory VectorStore. failTexts injects persistent upsert
// failures keyed by the payload text, since chunk ids are assigned at runtime.
type fakeVector struct {
	mu        sync.Mutex
	points    map[string]fakePoint
	failTexts map[string]bool
	delErr    error
}

func newFakeVector() *fakeVector {
	return &fakeVector{
		points:    make(map[string]fakePoint),
		failTexts: make(map[string]bool),
	}
}

func (f *fakeVector) Upsert(ctx context.Context, hintID string, embedding []float32, payload VectorPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTexts[payload.Text] {
		return "", ErrBackendUnavailable("vector", context.DeadlineExceeded)
	}
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	f.points[hintID] = fakePoint{embedding: cp, payload: payload}
	return hintID, nil
}

func (f *fakeVector) Search(ctx context.Context, embedding []float32, filter VectorFilter, topK int) ([]VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []VectorHit
	for id, p := range f.points {
		if filter.SessionID != "" && p.payload.SessionID != filter.SessionID {
			continue
		}
		if filter.DocumentID != "" && p.payload.DocumentID != filter.DocumentID {
			continue
		}
		var score float32
		for i := 0; i < len(embedding) && i < len(p.embedding); i++ {
			score += embedding[i] * p.embedding[i]
		}
		hits = append(hits, VectorHit{VectorID: id, Score: score, Payload: p.payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].VectorID < hits[j].VectorID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVector) Delete(ctx context.Context, vectorIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	for _, id := range vectorIDs {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeVector) ListIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.points))
	for id := range f.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeVector) Ping(ctx context.Context) error { return nil }

func (f *fakeVector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

// injectPoint places a raw point, simulating artifacts left behind by a crash
func (f *fakeVector) injectPoint(id string, payload VectorPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[id] = fakePoint{embedding: []float32{1}, payload: payload}
}

// newTestCoordinator wires a coordinator over fresh fakes with fast retries
func newTestCoordinator() (*Coordinator, *fakeRelational, *fakeBlob, *fakeVector) {
	relational := newFakeRelational()
	blobs := newFakeBlob()
	vectors := newFakeVector()
	c := New(relational, blobs, vectors)
	c.retries = 2
	c.backoffBase = time.Millisecond
	return c, relational, blobs, vectors
}

// mustCreateSession creates an active session valid for one hour
func mustCreateSession(t interface{ Fatalf(string, ...any) }, c *Coordinator) *models.Session {
	session, err := c.CreateSession(context.Background(), "user-1", time.Now().Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session
}

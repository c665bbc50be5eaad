// ABOUTME: Tests for the session resolver
// ABOUTME: Covers creation, reuse, concurrent resolution and the duplicate-insert retry

package conversation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facmartoni/jarvisp-prod/internal/store"
)

func createTestStore(t *testing.T) *store.SQLStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestCompany(t *testing.T, s *store.SQLStore) *store.Company {
	c := &store.Company{Name: "Fibra Norte", Slug: "fibra-norte", ChannelID: "1234567890", IsActive: true}
	require.NoError(t, s.CreateCompany(context.Background(), c))
	return c
}

func TestResolver_CreatesThenReuses(t *testing.T) {
	s := createTestStore(t)
	company := createTestCompany(t, s)
	r := NewResolver(s, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, company, "5493816378744")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, first.Identity.Valid)
	assert.Equal(t, "+5493816378744", first.Customer.Phone)
	assert.Equal(t, "+5493816378744", first.Customer.Name)
	assert.Equal(t, store.StatusNew, first.Conversation.Status)
	assert.True(t, first.Conversation.IsActive)
	assert.Equal(t, 0, first.Conversation.TotalMessages)

	// same number with a leading plus resolves to the same session
	second, err := r.Resolve(ctx, company, "+5493816378744")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Customer.ID, second.Customer.ID)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.False(t, second.Customer.LastInteraction.Before(first.Customer.LastInteraction))
}

func TestResolver_DisplayName(t *testing.T) {
	s := createTestStore(t)
	company := createTestCompany(t, s)
	r := NewResolver(s, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, company, "5493816378744")
	require.NoError(t, err)
	assert.Equal(t, "+5493816378744", first.Customer.Name)

	named, err := r.ResolveWithName(ctx, company, "5493816378744", " Juana ")
	require.NoError(t, err)
	assert.Equal(t, first.Customer.ID, named.Customer.ID)
	assert.Equal(t, "Juana", named.Customer.Name)

	again, err := r.ResolveWithName(ctx, company, "5493816378744", "")
	require.NoError(t, err)
	assert.Equal(t, "Juana", again.Customer.Name)
}

func TestResolver_InvalidIdentityPassesThrough(t *testing.T) {
	s := createTestStore(t)
	company := createTestCompany(t, s)
	r := NewResolver(s, nil)

	res, err := r.Resolve(context.Background(), company, "12")
	require.NoError(t, err)
	assert.False(t, res.Identity.Valid)
	assert.Equal(t, "+12", res.Customer.Phone)
	assert.True(t, res.Created)
}

func TestResolver_EmptyIdentity(t *testing.T) {
	s := createTestStore(t)
	company := createTestCompany(t, s)
	r := NewResolver(s, nil)

	_, err := r.Resolve(context.Background(), company, "   ")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestResolver_ConcurrentSameIdentity(t *testing.T) {
	s := createTestStore(t)
	company := createTestCompany(t, s)
	r := NewResolver(s, nil)
	ctx := context.Background()

	const workers = 10
	results := make([]*Resolution, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = r.Resolve(ctx, company, "5493816378744")
		}(i)
	}
	close(start)
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Conversation.ID, results[i].Conversation.ID)
		assert.Equal(t, results[0].Customer.ID, results[i].Customer.ID)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)

	convs, err := s.ListCustomerConversations(ctx, company.ID, results[0].Customer.ID)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestResolver_DistinctCompaniesAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestCompany(t, s)
	b := &store.Company{Name: "Otra", Slug: "otra", ChannelID: "999", IsActive: true}
	require.NoError(t, s.CreateCompany(ctx, b))

	r := NewResolver(s, nil)
	ra, err := r.Resolve(ctx, a, "5493816378744")
	require.NoError(t, err)
	rb, err := r.Resolve(ctx, b, "5493816378744")
	require.NoError(t, err)

	assert.NotEqual(t, ra.Customer.ID, rb.Customer.ID)
	assert.NotEqual(t, ra.Conversation.ID, rb.Conversation.ID)
	assert.True(t, rb.Created)
}

// racingStore simulates losing the insert race: the first CreateConversation
// fails with ErrDuplicateConversation and the winner's row becomes visible.
type racingStore struct {
	mu       sync.Mutex
	winner   *store.Conversation
	creates  int
	attempts int
}

func (s *racingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return fn(ctx, &racingTx{s: s})
}

func (s *racingStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return nil, nil
}

type racingTx struct {
	store.Tx
	s *racingStore
}

func (t *racingTx) UpsertCustomer(ctx context.Context, companyID, phone, name string, now time.Time) (*store.Customer, error) {
	return &store.Customer{ID: "cust-1", CompanyID: companyID, Phone: phone, Name: name, LastInteraction: now}, nil
}

func (t *racingTx) LockCustomer(ctx context.Context, customerID string) error { return nil }

func (t *racingTx) GetActiveConversation(ctx context.Context, companyID, customerID string) (*store.Conversation, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.creates == 0 || t.s.winner == nil {
		return nil, store.ErrNotFound
	}
	return t.s.winner, nil
}

func (t *racingTx) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.creates++
	t.s.winner = &store.Conversation{ID: "conv-winner", CompanyID: conv.CompanyID, CustomerID: conv.CustomerID, Status: store.StatusNew, IsActive: true}
	return store.ErrDuplicateConversation
}

func TestResolver_RetriesOnceAfterDuplicate(t *testing.T) {
	s := &racingStore{}
	r := NewResolver(s, nil)

	res, err := r.Resolve(context.Background(), &store.Company{ID: "co-1"}, "5493816378744")
	require.NoError(t, err)
	assert.Equal(t, "conv-winner", res.Conversation.ID)
	assert.False(t, res.Created)
	assert.Equal(t, 2, s.attempts)
	assert.Equal(t, 1, s.creates)
}

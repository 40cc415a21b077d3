package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecraft/voiceorder/errors"
)

// fakeSubmitter records requests and optionally blocks until released.
type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []SubmissionRequest
	entered chan struct{}
	enterMu sync.Once
	gate    chan struct{}
	orderID string
	err     error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req SubmissionRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.entered != nil {
		f.enterMu.Do(func() { close(f.entered) })
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", f.err
	}
	if f.orderID == "" {
		return "ord-1", nil
	}
	return f.orderID, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSubmitter) request(i int) SubmissionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// eventRecorder collects draft callbacks; callbacks may fire from several
// goroutines.
type eventRecorder struct {
	mu        sync.Mutex
	states    []SubmissionState
	itemSnaps [][]Item
	abandoned [][]Item
}

func (r *eventRecorder) events() Events {
	return Events{
		SubmissionStateChanged: func(s SubmissionState) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		ItemsChanged: func(items []Item) {
			r.mu.Lock()
			r.itemSnaps = append(r.itemSnaps, items)
			r.mu.Unlock()
		},
		Abandoned: func(items []Item) {
			r.mu.Lock()
			r.abandoned = append(r.abandoned, items)
			r.mu.Unlock()
		},
	}
}

func (r *eventRecorder) stateLog() []SubmissionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubmissionState, len(r.states))
	copy(out, r.states)
	return out
}

func matchedItem(name string, priceCents int) Item {
	return Item{
		ID:                NewItemID(),
		RawName:           name,
		Quantity:          1,
		MatchedMenuItemID: "menu-" + name,
		MatchedName:       name,
		PriceCents:        priceCents,
		MatchConfidence:   0.95,
		Status:            StatusMatched,
	}
}

func unmatchedItem(name string) Item {
	return Item{
		ID:       NewItemID(),
		RawName:  name,
		Quantity: 1,
		Status:   StatusUnmatched,
	}
}

func TestSubmitSuccessTransitions(t *testing.T) {
	sub := &fakeSubmitter{orderID: "ord-42"}
	rec := &eventRecorder{}
	d := NewDraft(sub, rec.events(), nil, nil)
	d.AddItems(matchedItem("blt", 950))

	receipt, err := d.Submit(context.Background(), "rest-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-42", receipt.OrderID)
	assert.Equal(t, 950, receipt.TotalCents)
	require.Len(t, receipt.SubmittedItems, 1)

	assert.Equal(t,
		[]SubmissionState{SubmissionSubmitting, SubmissionSubmitted, SubmissionIdle},
		rec.stateLog())
	assert.Empty(t, d.Items())
	assert.Equal(t, SubmissionIdle, d.State())
}

func TestSubmitEmptyDraftIsInvalid(t *testing.T) {
	sub := &fakeSubmitter{}
	d := NewDraft(sub, Events{}, nil, nil)
	d.AddItems(unmatchedItem("mystery dish"))

	_, err := d.Submit(context.Background(), "rest-1")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, 0, sub.callCount())
	assert.Equal(t, SubmissionIdle, d.State())
	assert.Len(t, d.Items(), 1)
}

func TestDuplicateSubmitSharesSingleCall(t *testing.T) {
	sub := &fakeSubmitter{
		orderID: "ord-7",
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	d := NewDraft(sub, Events{}, nil, nil)
	d.AddItems(matchedItem("blt", 950))

	type result struct {
		receipt *Receipt
		err     error
	}
	results := make(chan result, 2)

	go func() {
		r, err := d.Submit(context.Background(), "rest-1")
		results <- result{r, err}
	}()

	select {
	case <-sub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission never reached the API")
	}

	// Second submit while the first is in flight.
	go func() {
		r, err := d.Submit(context.Background(), "rest-1")
		results <- result{r, err}
	}()

	// Give the second caller time to park on the shared result.
	time.Sleep(20 * time.Millisecond)
	close(sub.gate)

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			require.NoError(t, res.err)
			assert.Equal(t, "ord-7", res.receipt.OrderID)
		case <-time.After(2 * time.Second):
			t.Fatal("submit did not complete")
		}
	}

	// The duplicate press produced exactly one API call.
	assert.Equal(t, 1, sub.callCount())
}

func TestFailurePreservesItemsAndKey(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("connection reset")}
	rec := &eventRecorder{}
	d := NewDraft(sub, rec.events(), nil, nil)
	d.AddItems(matchedItem("blt", 950), matchedItem("salad", 875))

	_, err := d.Submit(context.Background(), "rest-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSubmissionFailed))
	assert.True(t, errors.IsTransient(err))

	assert.Len(t, d.Items(), 2)
	assert.Equal(t,
		[]SubmissionState{SubmissionSubmitting, SubmissionFailed, SubmissionIdle},
		rec.stateLog())

	// Retry reuses the same idempotency key.
	keyAfterFailure := d.IdempotencyKey()
	require.NotEmpty(t, keyAfterFailure)

	sub.err = nil
	receipt, err := d.Submit(context.Background(), "rest-1")
	require.NoError(t, err)
	assert.NotNil(t, receipt)
	require.Equal(t, 2, sub.callCount())
	assert.Equal(t, keyAfterFailure, sub.request(0).IdempotencyKey)
	assert.Equal(t, keyAfterFailure, sub.request(1).IdempotencyKey)

	// A fresh key is minted only after confirmation.
	assert.Empty(t, d.IdempotencyKey())
}

func TestSuccessClearsOnlySubmittedSnapshot(t *testing.T) {
	sub := &fakeSubmitter{
		orderID: "ord-9",
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	d := NewDraft(sub, Events{}, nil, nil)
	d.AddItems(matchedItem("blt", 950))

	done := make(chan struct{})
	go func() {
		defer close(done)
		receipt, err := d.Submit(context.Background(), "rest-1")
		assert.NoError(t, err)
		if receipt != nil {
			assert.Len(t, receipt.SubmittedItems, 1)
		}
	}()

	<-sub.entered
	// The customer keeps talking while the order is in flight.
	late := matchedItem("fries", 425)
	d.AddItems(late)
	close(sub.gate)
	<-done

	remaining := d.Items()
	require.Len(t, remaining, 1)
	assert.Equal(t, late.ID, remaining[0].ID)
}

func TestSubmitRequestCarriesDraftContents(t *testing.T) {
	sub := &fakeSubmitter{}
	d := NewDraft(sub, Events{}, nil, nil)
	it := matchedItem("blt", 950)
	d.AddItems(it, unmatchedItem("static noise"))

	_, err := d.Submit(context.Background(), "rest-1")
	require.NoError(t, err)

	req := sub.request(0)
	assert.Equal(t, "rest-1", req.RestaurantID)
	assert.NotEmpty(t, req.IdempotencyKey)
	// Unmatched items are never billed.
	require.Len(t, req.Items, 1)
	assert.Equal(t, it.ID, req.Items[0].ID)
}

func TestRemoveItem(t *testing.T) {
	d := NewDraft(&fakeSubmitter{}, Events{}, nil, nil)
	a := matchedItem("blt", 950)
	b := matchedItem("salad", 875)
	d.AddItems(a, b)

	assert.True(t, d.RemoveItem(a.ID))
	assert.False(t, d.RemoveItem("no-such-id"))

	remaining := d.Items()
	require.Len(t, remaining, 1)
	assert.Equal(t, b.ID, remaining[0].ID)
	assert.Equal(t, 875, d.TotalCents())
}

func TestAbandonNotifiesOnNonEmptyDraft(t *testing.T) {
	rec := &eventRecorder{}
	d := NewDraft(&fakeSubmitter{}, rec.events(), nil, nil)
	d.AddItems(matchedItem("blt", 950))

	left := d.Abandon()
	require.Len(t, left, 1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.abandoned, 1)
	assert.Len(t, rec.abandoned[0], 1)
}

func TestAbandonEmptyDraftIsSilent(t *testing.T) {
	rec := &eventRecorder{}
	d := NewDraft(&fakeSubmitter{}, rec.events(), nil, nil)

	assert.Nil(t, d.Abandon())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.abandoned)
}

// flakySubmitter fails the first call, gates the second, and tracks how
// many calls are in flight at once.
type flakySubmitter struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	entered     chan struct{}
	gate        chan struct{}
}

func (f *flakySubmitter) Submit(ctx context.Context, req SubmissionRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if call == 1 {
		return "", fmt.Errorf("connection reset")
	}
	if call == 2 {
		close(f.entered)
	}
	<-f.gate
	return "ord-retry", nil
}

func TestRetryFromFailureCallbackNeverOverlapsCalls(t *testing.T) {
	sub := &flakySubmitter{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}

	// The UI retries the moment it sees the failed state, while the draft
	// is still settling the first attempt.
	var d *Draft
	retryDone := make(chan error, 1)
	events := Events{
		SubmissionStateChanged: func(s SubmissionState) {
			if s == SubmissionFailed {
				go func() {
					_, err := d.Submit(context.Background(), "rest-1")
					retryDone <- err
				}()
			}
		},
	}
	d = NewDraft(sub, events, nil, nil)
	d.AddItems(matchedItem("blt", 950))

	_, err := d.Submit(context.Background(), "rest-1")
	require.Error(t, err)

	select {
	case <-sub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never reached the API")
	}

	// A third press while the retry is parked at the API must join it.
	joined := make(chan *Receipt, 1)
	go func() {
		r, err := d.Submit(context.Background(), "rest-1")
		assert.NoError(t, err)
		joined <- r
	}()
	time.Sleep(20 * time.Millisecond)
	close(sub.gate)

	select {
	case err := <-retryDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not complete")
	}
	select {
	case r := <-joined:
		require.NotNil(t, r)
		assert.Equal(t, "ord-retry", r.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("joined submit did not complete")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, 2, sub.calls)
	assert.Equal(t, 1, sub.maxInFlight, "submissions overlapped")
	assert.Equal(t, SubmissionIdle, d.State())
}

func TestLateResponseStillApplies(t *testing.T) {
	sub := &fakeSubmitter{
		orderID: "ord-late",
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	rec := &eventRecorder{}
	d := NewDraft(sub, rec.events(), nil, nil)
	d.AddItems(matchedItem("blt", 950))

	done := make(chan *Receipt, 1)
	go func() {
		receipt, err := d.Submit(context.Background(), "rest-1")
		assert.NoError(t, err)
		done <- receipt
	}()
	<-sub.entered

	// The voice connection drops here; the submission context is not tied
	// to the transport, so the response is still applied when it lands.
	close(sub.gate)

	select {
	case receipt := <-done:
		require.NotNil(t, receipt)
		assert.Equal(t, "ord-late", receipt.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("late response never applied")
	}
	assert.Empty(t, d.Items())
	assert.Equal(t, SubmissionIdle, d.State())
}

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"driftpay/address"
	"driftpay/delivery"
	"driftpay/ledger"
)

type fakeLedger struct {
	mu      sync.Mutex
	pending []ledger.Record
	listErr error
	updates []ledger.StatusUpdate
}

func (f *fakeLedger) ListPending(context.Context) ([]ledger.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]ledger.Record, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeLedger) UpdateStatus(_ context.Context, id string, upd ledger.StatusUpdate) (ledger.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	return ledger.Record{ID: id, Status: upd.Status}, nil
}

type fakeDeliverer struct {
	mu           sync.Mutex
	delivered    []string
	rebroadcast  []string
	err          error
	block        chan struct{}
	firstStarted chan struct{}
	startOnce    sync.Once
}

func (f *fakeDeliverer) Deliver(_ context.Context, rec ledger.Record) (ledger.Record, error) {
	if f.firstStarted != nil {
		f.startOnce.Do(func() { close(f.firstStarted) })
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, rec.ID)
	return rec, f.err
}

func (f *fakeDeliverer) Rebroadcast(_ context.Context, rec ledger.Record) (ledger.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebroadcast = append(f.rebroadcast, rec.ID)
	return rec, f.err
}

func pendingRecord(id string, dir ledger.Direction, payload []byte) ledger.Record {
	return ledger.Record{
		ID:        id,
		Direction: dir,
		Status:    ledger.StatusQueued,
		Payload:   payload,
	}
}

func TestDrainProcessesInCreationOrder(t *testing.T) {
	fl := &fakeLedger{pending: []ledger.Record{
		pendingRecord("a", ledger.DirectionOutgoing, []byte{1}),
		pendingRecord("b", ledger.DirectionIncoming, []byte{2}),
		pendingRecord("c", ledger.DirectionOutgoing, []byte{3}),
	}}
	fd := &fakeDeliverer{}
	p := NewProcessor(fl, fd, nil)

	p.OnConnectivityRestored(context.Background())

	if want := []string{"a", "c"}; !equalStrings(fd.delivered, want) {
		t.Fatalf("delivered = %v, want %v", fd.delivered, want)
	}
	if want := []string{"b"}; !equalStrings(fd.rebroadcast, want) {
		t.Fatalf("rebroadcast = %v, want %v", fd.rebroadcast, want)
	}
}

func TestDrainContinuesPastFailures(t *testing.T) {
	fl := &fakeLedger{pending: []ledger.Record{
		pendingRecord("a", ledger.DirectionOutgoing, []byte{1}),
		pendingRecord("b", ledger.DirectionOutgoing, []byte{2}),
	}}
	fd := &fakeDeliverer{err: errors.New("transport down")}
	p := NewProcessor(fl, fd, nil)

	p.OnConnectivityRestored(context.Background())

	if len(fd.delivered) != 2 {
		t.Fatalf("delivered = %v, want both attempts despite failures", fd.delivered)
	}
}

func TestDrainFailsPayloadlessRecords(t *testing.T) {
	fl := &fakeLedger{pending: []ledger.Record{
		{ID: "a", Direction: ledger.DirectionOutgoing, Status: ledger.StatusPending},
	}}
	fd := &fakeDeliverer{}
	p := NewProcessor(fl, fd, nil)

	p.OnConnectivityRestored(context.Background())

	if len(fd.delivered) != 0 {
		t.Fatalf("payloadless record reached the deliverer")
	}
	if len(fl.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(fl.updates))
	}
	upd := fl.updates[0]
	if upd.Status != ledger.StatusFailed || upd.Reason != ReasonIncompleteContext {
		t.Fatalf("update = %+v, want failed/IncompleteContext", upd)
	}
}

func TestDrainSkipsAlreadyBroadcastRecords(t *testing.T) {
	fl := &fakeLedger{pending: []ledger.Record{
		{ID: "a", Direction: ledger.DirectionOutgoing, Status: ledger.StatusBroadcasted, Payload: []byte{1}},
		{ID: "b", Direction: ledger.DirectionOutgoing, Status: ledger.StatusConfirming, Payload: []byte{2}},
		pendingRecord("c", ledger.DirectionOutgoing, []byte{3}),
	}}
	fd := &fakeDeliverer{}
	p := NewProcessor(fl, fd, nil)

	p.OnConnectivityRestored(context.Background())

	if want := []string{"c"}; !equalStrings(fd.delivered, want) {
		t.Fatalf("delivered = %v, want %v", fd.delivered, want)
	}
}

func TestDrainIsSingleFlight(t *testing.T) {
	fl := &fakeLedger{pending: []ledger.Record{
		pendingRecord("a", ledger.DirectionOutgoing, []byte{1}),
	}}
	fd := &fakeDeliverer{
		block:        make(chan struct{}),
		firstStarted: make(chan struct{}),
	}
	p := NewProcessor(fl, fd, nil)

	done := make(chan struct{})
	go func() {
		p.OnConnectivityRestored(context.Background())
		close(done)
	}()

	select {
	case <-fd.firstStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("first drain never started")
	}

	// Triggers landing mid-drain must return without starting a second pass.
	for i := 0; i < 5; i++ {
		p.OnConnectivityRestored(context.Background())
	}

	close(fd.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain never finished")
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.delivered) != 1 {
		t.Fatalf("delivered = %v, want exactly one attempt", fd.delivered)
	}
}

func TestSetOnlineTriggersOnlyOnEdge(t *testing.T) {
	fl := &fakeLedger{pending: []ledger.Record{
		pendingRecord("a", ledger.DirectionOutgoing, []byte{1}),
	}}
	fd := &fakeDeliverer{}
	p := NewProcessor(fl, fd, nil)
	ctx := context.Background()

	p.SetOnline(ctx, false)
	if len(fd.delivered) != 0 {
		t.Fatal("offline transition triggered a drain")
	}

	p.SetOnline(ctx, true)
	if len(fd.delivered) != 1 {
		t.Fatalf("delivered = %v, want one drain on the offline-to-online edge", fd.delivered)
	}

	// Still online; no new edge, no new drain.
	p.SetOnline(ctx, true)
	if len(fd.delivered) != 1 {
		t.Fatalf("delivered = %v, repeated online state re-triggered the drain", fd.delivered)
	}

	p.SetOnline(ctx, false)
	p.SetOnline(ctx, true)
	if len(fd.delivered) != 2 {
		t.Fatalf("delivered = %v, want a second drain after going offline and back", fd.delivered)
	}
}

// End-to-end: submissions made offline reach the network after reconnect.
func TestReconnectDrainsOfflineSubmissions(t *testing.T) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := ledger.NewBadgerStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ldg := ledger.NewService(store, nil)

	net := &scriptedBroadcaster{ids: []string{"net-1", "net-2"}}
	var p *Processor
	orc := delivery.NewOrchestrator(ldg, nil, net, delivery.Config{
		NetworkPrefix: "driftpay",
		Online:        func() bool { return p.Online() },
	})
	p = NewProcessor(ldg, orc, nil)
	ctx := context.Background()

	hash := make([]byte, address.HashSize)
	for i := range hash {
		hash[i] = byte(i + 1)
	}
	dest, err := address.Encode(hash, "driftpay")
	if err != nil {
		t.Fatalf("encode address: %v", err)
	}

	for _, payload := range [][]byte{{0x01}, {0x02}} {
		rec, err := orc.Submit(ctx, delivery.SubmitParams{
			To:          dest,
			SelfAddress: dest,
			AmountMinor: 100,
			Payload:     payload,
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if rec.Status != ledger.StatusQueued {
			t.Fatalf("offline submission status = %s, want queued", rec.Status)
		}
	}

	p.SetOnline(ctx, true)

	recs, err := ldg.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Status != ledger.StatusBroadcasted {
			t.Fatalf("record %s status = %s, want broadcasted", rec.ID, rec.Status)
		}
		if rec.Channel != ledger.ChannelNetwork {
			t.Fatalf("record %s channel = %s, want network", rec.ID, rec.Channel)
		}
		if rec.NetworkID == "" {
			t.Fatalf("record %s has no network id", rec.ID)
		}
	}
}

type scriptedBroadcaster struct {
	mu  sync.Mutex
	ids []string
}

func (s *scriptedBroadcaster) BroadcastRaw(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return "", errors.New("no scripted ids left")
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

package calsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/modernmilkman/internal/eventuid"
	"github.com/mmeshcher/modernmilkman/internal/model"
)

type fakeCalendars struct {
	events map[string][]model.CalendarEvent

	responseUnsupported bool
	getErr              error

	creates         int
	createsFallback int
	lastQueryStart  time.Time
	lastQueryEnd    time.Time
}

func newFakeCalendars() *fakeCalendars {
	return &fakeCalendars{events: make(map[string][]model.CalendarEvent)}
}

func (f *fakeCalendars) add(rec model.CalendarEventRecord) {
	f.events[rec.EntityID] = append(f.events[rec.EntityID], model.CalendarEvent{
		Start:       rec.StartDate,
		End:         rec.EndDate,
		Summary:     rec.Summary,
		Description: rec.Description,
		Location:    rec.Location,
	})
}

func (f *fakeCalendars) CreateEvent(ctx context.Context, rec model.CalendarEventRecord) error {
	if f.responseUnsupported {
		return ErrResponseUnsupported
	}
	f.creates++
	f.add(rec)
	return nil
}

func (f *fakeCalendars) CreateEventNoResponse(ctx context.Context, rec model.CalendarEventRecord) error {
	f.createsFallback++
	f.add(rec)
	return nil
}

func (f *fakeCalendars) GetEvents(ctx context.Context, entityID string, start, end time.Time) ([]model.CalendarEvent, error) {
	f.lastQueryStart, f.lastQueryEnd = start, end
	if f.getErr != nil {
		return nil, f.getErr
	}
	var res []model.CalendarEvent
	for _, ev := range f.events[entityID] {
		if !ev.Start.In(time.UTC).Before(start) && !ev.Start.In(time.UTC).After(end) {
			res = append(res, ev)
		}
	}
	return res, nil
}

// slowCalendars показывает созданное событие только после задержки в CreateEvent.
type slowCalendars struct {
	mu      sync.Mutex
	events  []model.CalendarEvent
	creates int
	delay   time.Duration
}

func (f *slowCalendars) CreateEvent(ctx context.Context, rec model.CalendarEventRecord) error {
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.events = append(f.events, model.CalendarEvent{Start: rec.StartDate, End: rec.EndDate, Summary: rec.Summary})
	return nil
}

func (f *slowCalendars) CreateEventNoResponse(ctx context.Context, rec model.CalendarEventRecord) error {
	return f.CreateEvent(ctx, rec)
}

func (f *slowCalendars) GetEvents(ctx context.Context, entityID string, start, end time.Time) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CalendarEvent(nil), f.events...), nil
}

type memStore struct {
	entry   model.ConfigEntry
	updates int
}

func (m *memStore) Entry(ctx context.Context) (model.ConfigEntry, error) {
	return m.entry, nil
}

func (m *memStore) UpdateUIDs(ctx context.Context, uids []string) error {
	m.updates++
	m.entry.UIDs = append([]string(nil), uids...)
	return nil
}

var (
	today    = time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC)
	delivery = model.NextDelivery{Fields: map[string]any{"deliveryDate": "2025-03-01"}}
)

func TestSync_CreatesAndRecordsUID(t *testing.T) {
	cals := newFakeCalendars()
	store := &memStore{entry: model.ConfigEntry{Calendars: []string{"calendar.home", model.NoCalendar}}}
	s := NewSyncer(cals, store, nil)

	uids, err := s.Sync(context.Background(), delivery, today)
	require.NoError(t, err)

	assert.Equal(t, 1, cals.creates)
	require.Len(t, uids, 1)
	assert.Equal(t, uids, store.entry.UIDs)

	event, ok := DeliveryEvent(delivery, model.DateOf(today))
	require.True(t, ok)
	want, err := eventuid.Generate(model.NewCalendarEventRecord("calendar.home", event).Fields())
	require.NoError(t, err)
	assert.Equal(t, want.String(), uids[0])

	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), cals.lastQueryStart)
	assert.Equal(t, time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC), cals.lastQueryEnd)
}

func TestSync_Idempotent(t *testing.T) {
	cals := newFakeCalendars()
	store := &memStore{entry: model.ConfigEntry{Calendars: []string{"calendar.home"}}}
	s := NewSyncer(cals, store, nil)

	first, err := s.Sync(context.Background(), delivery, today)
	require.NoError(t, err)

	second, err := s.Sync(context.Background(), delivery, today)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, cals.creates)
	assert.Len(t, cals.events["calendar.home"], 1)
	assert.Equal(t, 1, store.updates)
}

func TestSync_ExistingEventNotRecreated(t *testing.T) {
	cals := newFakeCalendars()
	event, _ := DeliveryEvent(delivery, model.DateOf(today))
	cals.add(model.NewCalendarEventRecord("calendar.home", event))

	store := &memStore{entry: model.ConfigEntry{Calendars: []string{"calendar.home"}}}
	s := NewSyncer(cals, store, nil)

	uids, err := s.Sync(context.Background(), delivery, today)
	require.NoError(t, err)

	assert.Zero(t, cals.creates)
	assert.Zero(t, cals.createsFallback)
	assert.Len(t, uids, 1)
}

func TestSync_FallbackWithoutResponse(t *testing.T) {
	cals := newFakeCalendars()
	cals.responseUnsupported = true
	store := &memStore{entry: model.ConfigEntry{Calendars: []string{"calendar.home"}}}
	s := NewSyncer(cals, store, nil)

	uids, err := s.Sync(context.Background(), delivery, today)
	require.NoError(t, err)

	assert.Equal(t, 1, cals.createsFallback)
	assert.Len(t, uids, 1)
}

func TestSync_SkipsUnknownAndPastDeliveries(t *testing.T) {
	tests := []struct {
		name string
		next model.NextDelivery
	}{
		{name: "unknown", next: model.UnknownDelivery()},
		{name: "past", next: model.NextDelivery{Fields: map[string]any{"deliveryDate": "2025-02-19"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cals := newFakeCalendars()
			store := &memStore{entry: model.ConfigEntry{Calendars: []string{"calendar.home"}, UIDs: []string{"old"}}}
			s := NewSyncer(cals, store, nil)

			uids, err := s.Sync(context.Background(), tt.next, today)
			require.NoError(t, err)

			assert.Equal(t, []string{"old"}, uids)
			assert.Zero(t, cals.creates)
			assert.Zero(t, store.updates)
		})
	}
}

func TestSync_QueryErrorReported(t *testing.T) {
	cals := newFakeCalendars()
	cals.getErr = errors.New("hass down")
	store := &memStore{entry: model.ConfigEntry{Calendars: []string{"calendar.home"}}}
	s := NewSyncer(cals, store, nil)

	_, err := s.Sync(context.Background(), delivery, today)
	require.Error(t, err)
	assert.Zero(t, cals.creates)
}

func TestDeliveryEvent_Today(t *testing.T) {
	next := model.NextDelivery{Fields: map[string]any{"deliveryDate": "2025-02-20"}}

	ev, ok := DeliveryEvent(next, model.DateOf(today))
	require.True(t, ok)
	assert.Equal(t, "2025-02-20", ev.Start.String())
	assert.Equal(t, "2025-02-21", ev.End.String())
	assert.Equal(t, Summary, ev.Summary)
}

func TestSync_ConcurrentCallsCreateOnce(t *testing.T) {
	cals := &slowCalendars{delay: 50 * time.Millisecond}
	store := &memStore{entry: model.ConfigEntry{Calendars: []string{"calendar.home"}}}
	s := NewSyncer(cals, store, nil)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = s.Sync(context.Background(), delivery, today)
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, cals.creates)
	assert.Len(t, cals.events, 1)
	assert.Len(t, store.entry.UIDs, 1)
	assert.Equal(t, 1, store.updates)
}

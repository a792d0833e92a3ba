package setup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/repository"
	"github.com/mmeshcher/modernmilkman/internal/tmm"
)

type stubClient struct {
	loginErr error
	state    model.UserState
	stateErr error

	logins int
}

func (s *stubClient) Login(_ context.Context, _ model.Credentials) (*tmm.Session, error) {
	s.logins++
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &tmm.Session{}, nil
}

func (s *stubClient) FetchUserState(_ context.Context, _ *tmm.Session) (model.UserState, error) {
	return s.state, s.stateErr
}

type memStore struct {
	entry    *model.ConfigEntry
	entryErr error
}

func (m *memStore) Entry(_ context.Context) (model.ConfigEntry, error) {
	if m.entryErr != nil {
		return model.ConfigEntry{}, m.entryErr
	}
	if m.entry == nil {
		return model.ConfigEntry{}, repository.ErrEntryNotFound
	}
	return *m.entry, nil
}

func (m *memStore) CreateEntry(_ context.Context, entry model.ConfigEntry) error {
	if m.entry != nil {
		return repository.ErrEntryExists
	}
	m.entry = &entry
	return nil
}

func (m *memStore) UpdateCalendars(_ context.Context, calendars []string) error {
	if m.entry == nil {
		return repository.ErrEntryNotFound
	}
	m.entry.Calendars = calendars
	return nil
}

type stubLister struct {
	calendars []model.CalendarInfo
	err       error
}

func (s stubLister) ListCalendars(_ context.Context) ([]model.CalendarInfo, error) {
	return s.calendars, s.err
}

func janeState() model.UserState {
	return model.UserState{
		"customer": map[string]any{
			"user": map[string]any{"forename": "Jane", "surname": "Doe"},
		},
	}
}

func validInput() Input {
	return Input{Username: "jane@example.com", Password: "secret", Calendars: []string{"calendar.home", model.NoCalendar}}
}

func TestRun_CreatesEntry(t *testing.T) {
	store := &memStore{}
	lister := stubLister{calendars: []model.CalendarInfo{
		{EntityID: "calendar.home", Name: "Home"},
		{EntityID: model.NoCalendar, Name: "Create a new calendar"},
	}}
	flow := NewFlow(store, &stubClient{state: janeState()}, lister, nil)

	res, err := flow.Run(context.Background(), validInput())
	require.NoError(t, err)
	require.NotNil(t, res.Entry)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.AbortReason)

	assert.Equal(t, "Jane Doe", res.Entry.Title)
	assert.Equal(t, model.Domain, res.Entry.EntryID)
	require.NotNil(t, store.entry)
	assert.Equal(t, []string{"calendar.home", model.NoCalendar}, store.entry.Calendars)
	assert.Empty(t, store.entry.UIDs)
}

func TestRun_AlreadyConfigured(t *testing.T) {
	store := &memStore{entry: &model.ConfigEntry{EntryID: model.Domain}}
	client := &stubClient{state: janeState()}
	flow := NewFlow(store, client, nil, nil)

	res, err := flow.Run(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, AbortAlreadyConfigured, res.AbortReason)
	assert.Zero(t, client.logins)
}

func TestRun_StoreFailure(t *testing.T) {
	flow := NewFlow(&memStore{entryErr: errors.New("disk full")}, &stubClient{}, nil, nil)

	_, err := flow.Run(context.Background(), validInput())
	require.Error(t, err)
}

func TestRun_FormErrors(t *testing.T) {
	tests := []struct {
		name   string
		client *stubClient
		lister CalendarLister
		input  Input
		want   map[string]string
	}{
		{
			name:   "invalid auth",
			client: &stubClient{loginErr: tmm.ErrInvalidAuth},
			input:  validInput(),
			want:   map[string]string{FieldBase: ErrorInvalidAuth},
		},
		{
			name:   "cannot connect",
			client: &stubClient{loginErr: tmm.ErrConnection},
			input:  validInput(),
			want:   map[string]string{FieldBase: ErrorCannotConnect},
		},
		{
			name:   "rate limited",
			client: &stubClient{loginErr: &tmm.RateLimitError{}},
			input:  validInput(),
			want:   map[string]string{FieldBase: ErrorCannotConnect},
		},
		{
			name:   "unexpected status",
			client: &stubClient{loginErr: &tmm.StatusError{Path: "/auth/login", Code: 500}},
			input:  validInput(),
			want:   map[string]string{FieldBase: ErrorUnknown},
		},
		{
			name:   "profile without name",
			client: &stubClient{state: model.UserState{"customer": map[string]any{}}},
			input:  validInput(),
			want:   map[string]string{FieldBase: ErrorUnknown},
		},
		{
			name:   "missing fields",
			client: &stubClient{state: janeState()},
			input:  Input{},
			want: map[string]string{
				FieldUsername:  ErrorRequired,
				FieldPassword:  ErrorRequired,
				FieldCalendars: ErrorRequired,
			},
		},
		{
			name:   "malformed calendar id",
			client: &stubClient{state: janeState()},
			input:  Input{Username: "u", Password: "p", Calendars: []string{"sensor.home"}},
			want:   map[string]string{FieldCalendars: ErrorInvalidCalendar},
		},
		{
			name:   "calendar not offered by host",
			client: &stubClient{state: janeState()},
			lister: stubLister{calendars: []model.CalendarInfo{{EntityID: model.NoCalendar}}},
			input:  Input{Username: "u", Password: "p", Calendars: []string{"calendar.work"}},
			want:   map[string]string{FieldCalendars: ErrorInvalidCalendar},
		},
		{
			name:   "host unavailable",
			client: &stubClient{state: janeState()},
			lister: stubLister{err: errors.New("connection refused")},
			input:  validInput(),
			want:   map[string]string{FieldCalendars: ErrorCannotConnect},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			flow := NewFlow(store, tt.client, tt.lister, nil)

			res, err := flow.Run(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Errors)
			assert.Nil(t, res.Entry)
			assert.Nil(t, store.entry)
		})
	}
}

func TestUpdateOptions(t *testing.T) {
	store := &memStore{entry: &model.ConfigEntry{EntryID: model.Domain, Calendars: []string{model.NoCalendar}}}
	flow := NewFlow(store, &stubClient{}, nil, nil)

	res, err := flow.UpdateOptions(context.Background(), []string{"calendar.kitchen"})
	require.NoError(t, err)
	require.NotNil(t, res.Entry)
	assert.Equal(t, []string{"calendar.kitchen"}, res.Entry.Calendars)

	res, err = flow.UpdateOptions(context.Background(), []string{"Calendar.Kitchen"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{FieldCalendars: ErrorInvalidCalendar}, res.Errors)
	assert.Equal(t, []string{"calendar.kitchen"}, store.entry.Calendars)
}

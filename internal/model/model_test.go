package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Date
		wantErr bool
	}{
		{name: "date", in: "2025-03-01", want: Date{2025, time.March, 1}},
		{name: "rfc3339", in: "2025-03-01T08:30:00+01:00", want: Date{2025, time.March, 1}},
		{name: "naive datetime", in: "2025-03-01T08:30:00", want: Date{2025, time.March, 1}},
		{name: "fractional seconds", in: "2025-03-01T08:30:00.123456", want: Date{2025, time.March, 1}},
		{name: "garbage", in: "next tuesday", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDate(t *testing.T) {
	d := Date{Year: 2024, Month: time.February, Day: 28}

	assert.Equal(t, "2024-02-28", d.String())
	assert.Equal(t, Date{2024, time.February, 29}, d.AddDays(1))
	assert.Equal(t, Date{2024, time.March, 1}, d.AddDays(2))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.False(t, d.Before(d))
	assert.True(t, Date{}.IsZero())

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-02-28"`, string(data))

	var back Date
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
}

func TestNextDelivery(t *testing.T) {
	unknown := UnknownDelivery()
	assert.True(t, unknown.IsUnknown())
	assert.Equal(t, Unknown, unknown.Value())
	_, err := unknown.Date()
	require.Error(t, err)

	next := NextDelivery{Fields: map[string]any{FieldDeliveryDate: "2025-03-01", "slot": "AM"}}
	assert.False(t, next.IsUnknown())
	date, err := next.Date()
	require.NoError(t, err)
	assert.Equal(t, Date{2025, time.March, 1}, date)

	_, err = NextDelivery{Fields: map[string]any{FieldDeliveryDate: 20250301}}.Date()
	require.Error(t, err)
}

func TestWastageRecord_BottlesSaved(t *testing.T) {
	tests := []struct {
		name   string
		record WastageRecord
		want   float64
		ok     bool
	}{
		{name: "float", record: WastageRecord{FieldBottlesSaved: 42.0}, want: 42, ok: true},
		{name: "int", record: WastageRecord{FieldBottlesSaved: 7}, want: 7, ok: true},
		{name: "json number", record: WastageRecord{FieldBottlesSaved: json.Number("12.5")}, want: 12.5, ok: true},
		{name: "string", record: WastageRecord{FieldBottlesSaved: "42"}},
		{name: "missing", record: WastageRecord{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.record.BottlesSaved()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserState_DisplayName(t *testing.T) {
	state := UserState{
		FieldCustomer: map[string]any{
			FieldUser: map[string]any{FieldForename: "Jane", FieldSurname: "Doe"},
		},
	}
	name, err := state.DisplayName()
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", name)

	_, err = UserState{}.DisplayName()
	require.Error(t, err)

	_, err = UserState{FieldCustomer: map[string]any{FieldUser: map[string]any{}}}.DisplayName()
	require.Error(t, err)
}

func TestConfigEntry(t *testing.T) {
	entry := ConfigEntry{Username: "u", Password: "p", Calendars: []string{"calendar.home"}}
	assert.Equal(t, Credentials{Username: "u", Password: "p"}, entry.Credentials())
	assert.False(t, entry.HasLocalCalendar())

	entry.Calendars = append(entry.Calendars, NoCalendar)
	assert.True(t, entry.HasLocalCalendar())
}

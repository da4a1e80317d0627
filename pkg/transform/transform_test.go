package transform

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/record"
)

func TestFormatKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"serie", "series"},
		{"serie_id", "seriesId"},
		{"player_id", "playerId"},
		{"a_b_c", "aB"},
		{"noUnderscore", "noUnderscore"},
		{"image_url", "imageUrl"},
		{"begin_at", "beginAt"},
		{"current_videogame", "currentVideogame"},
		{"modified_AT", "modifiedAt"},
		{"id", "id"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := FormatKey(tt.key); got != tt.want {
				t.Errorf("FormatKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

type stubResolver struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, group string, rec record.Record, imageURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := rec.ID()
	s.calls = append(s.calls, group+"/"+id)
	if s.err != nil {
		return "", s.err
	}
	return "https://storage.test/" + group + "/" + id + ".png", nil
}

func TestTransform_FlatRoundTrip(t *testing.T) {
	rec := record.Record{
		"id":        json.Number("42"),
		"name":      "LEC",
		"slug":      "lec",
		"url":       "https://lec.example",
		"league_id": json.Number("4197"),
		"live":      true,
	}

	got := New(nil).Transform(context.Background(), rec, "leagues")

	want := record.Record{
		"id":       json.Number("42"),
		"name":     "LEC",
		"slug":     "lec",
		"url":      "https://lec.example",
		"leagueId": json.Number("4197"),
		"live":     true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Transform = %#v, want %#v", got, want)
	}
	if _, ok := rec["league_id"]; !ok {
		t.Error("input record was modified")
	}
}

func TestTransform_Timestamps(t *testing.T) {
	rec := record.Record{
		"begin_at":    "2019-01-18T17:00:00Z",
		"startAt":     "not-a-date",
		"modified_at": nil,
		"status":      "finished",
		"date_at":     "2020-06-01",
	}

	got := New(nil).Transform(context.Background(), rec, "matches")

	ts, ok := got["beginAt"].(time.Time)
	if !ok || !ts.Equal(time.Date(2019, 1, 18, 17, 0, 0, 0, time.UTC)) {
		t.Errorf("beginAt = %#v, want parsed time", got["beginAt"])
	}
	if got["startAt"] != "not-a-date" {
		t.Errorf("startAt = %#v, want verbatim string", got["startAt"])
	}
	if v, ok := got["modifiedAt"]; !ok || v != nil {
		t.Errorf("modifiedAt = %#v, want nil", v)
	}
	if got["status"] != "finished" {
		t.Errorf("status = %#v, want verbatim", got["status"])
	}
	if _, ok := got["dateAt"].(time.Time); !ok {
		t.Errorf("dateAt = %#v, want parsed date", got["dateAt"])
	}
}

func TestTransform_NestedAndSequences(t *testing.T) {
	res := &stubResolver{}
	rec := record.Record{
		"id":        json.Number("1"),
		"image_url": "https://cdn/league/1.png",
		"serie": record.Record{
			"id":        json.Number("10"),
			"full_name": "Spring 2020",
		},
		"players": []any{
			record.Record{"id": json.Number("100"), "image_url": "https://cdn/p/100.png", "first_name": "Luka"},
			"loose value",
			record.Record{"id": json.Number("101"), "image_url": nil},
		},
	}

	got := New(res).Transform(context.Background(), rec, "teams")

	if got["imageUrl"] != "https://storage.test/teams/1.png" {
		t.Errorf("imageUrl = %#v", got["imageUrl"])
	}
	serie, ok := got["series"].(record.Record)
	if !ok || serie["fullName"] != "Spring 2020" {
		t.Errorf("series = %#v", got["series"])
	}

	players, ok := got["players"].([]any)
	if !ok || len(players) != 3 {
		t.Fatalf("players = %#v", got["players"])
	}
	first := players[0].(record.Record)
	if first["imageUrl"] != "https://storage.test/players/100.png" {
		t.Errorf("nested image resolved under %#v, want players group", first["imageUrl"])
	}
	if first["firstName"] != "Luka" {
		t.Errorf("firstName = %#v", first["firstName"])
	}
	if players[1] != "loose value" {
		t.Errorf("non-mapping element changed: %#v", players[1])
	}
	if v := players[2].(record.Record)["imageUrl"]; v != nil {
		t.Errorf("null image_url = %#v, want nil", v)
	}

	want := []string{"teams/1", "players/100"}
	if !reflect.DeepEqual(res.calls, want) {
		t.Errorf("resolver calls = %v, want %v", res.calls, want)
	}
}

func TestTransform_KeyCollisionIsStable(t *testing.T) {
	rec := record.Record{"foo_bar": "first", "foo_bar_baz": "second", "id": json.Number("1")}
	tr := New(nil)

	for i := 0; i < 200; i++ {
		got := tr.Transform(context.Background(), rec, "teams")
		if got["fooBar"] != "second" {
			t.Fatalf("run %d: fooBar = %#v, want %q", i, got["fooBar"], "second")
		}
		if len(got) != 2 {
			t.Fatalf("run %d: got %d keys, want 2", i, len(got))
		}
	}
}

func TestTransform_ImageFailureResolvesToNil(t *testing.T) {
	res := &stubResolver{err: errors.New("retry budget exhausted")}
	rec := record.Record{"id": json.Number("5"), "image_url": "https://cdn/5.png", "name": "G2"}

	got := New(res).Transform(context.Background(), rec, "teams")

	if v, ok := got["imageUrl"]; !ok || v != nil {
		t.Errorf("imageUrl = %#v, want nil", v)
	}
	if got["name"] != "G2" {
		t.Error("record should continue after image failure")
	}
}

func TestTransform_DeepNesting(t *testing.T) {
	rec := record.Record{"leaf_key": "v"}
	for i := 0; i < 200; i++ {
		rec = record.Record{"child": rec}
	}

	got := New(nil).Transform(context.Background(), rec, "deep")

	cur := got
	for i := 0; i < 200; i++ {
		cur = cur["child"].(record.Record)
	}
	if cur["leafKey"] != "v" {
		t.Errorf("leaf = %#v", cur)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2020-01-02T03:04:05Z", true},
		{"2020-01-02T03:04:05.123456Z", true},
		{"2020-01-02T03:04:05+02:00", true},
		{"2020-01-02 03:04:05", true},
		{"2020-01-02", true},
		{"not-a-date", false},
		{"", false},
	}
	for _, tt := range tests {
		if _, ok := ParseTime(tt.in); ok != tt.ok {
			t.Errorf("ParseTime(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
	}
}

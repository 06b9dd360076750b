package codec

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		topic string
		kind  Kind
		id    string
		ok    bool
	}{
		{"member/alice/send/login", KindLogin, "alice", true},
		{"member/alice/send/logout", KindLogout, "alice", true},
		{"member/alice/send/add_black_list", KindAddBlackList, "alice", true},
		{"room/bob/send/create", KindCreate, "bob", true},
		{"room/bob/send/start_queue", KindStartQueue, "bob", true},
		{"room/bob/send/prestart_get", KindPrestartGet, "bob", true},
		{"room/bob/send/leave", KindLeave, "bob", true},
		{"game/g1/send/leave", KindGameLeave, "g1", true},
		{"game/g1/send/game_over", KindGameOver, "g1", true},
		{"game/g1/send/result_upload", KindResultUpload, "g1", true},
		{"server/0/res/heartbeat", KindHeartbeat, "0", true},
		{"server/1/send/login", KindServerLogin, "1", true},
		{"manager/m/send/new_equ", KindNewEqu, "m", true},
		{"manager/m/send/delete_option", KindDeleteOption, "m", true},

		// composite ids with inner dashes
		{"member/a1-b2-c3/send/login", KindLogin, "a1-b2-c3", true},

		// rejected forms
		{"member/-abc/send/login", KindUnknown, "", false},
		{"member/abc-/send/login", KindUnknown, "", false},
		{"member/a--b/send/login", KindUnknown, "", false},
		{"member/alice/send/unknown_verb", KindUnknown, "", false},
		{"member/alice/res/login", KindUnknown, "", false},
		{"server/0/res/dead", KindUnknown, "", false},
		{"widget/alice/send/login", KindUnknown, "", false},
		{"member/alice/login", KindUnknown, "", false},
		{"", KindUnknown, "", false},
	}

	for _, tc := range cases {
		c, ok := Classify(tc.topic)
		if ok != tc.ok {
			t.Errorf("Classify(%q) ok = %v, want %v", tc.topic, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if c.Kind != tc.kind {
			t.Errorf("Classify(%q) kind = %d, want %d", tc.topic, c.Kind, tc.kind)
		}
		if c.ID != tc.id {
			t.Errorf("Classify(%q) id = %q, want %q", tc.topic, c.ID, tc.id)
		}
	}
}

func TestClassifyResTopic(t *testing.T) {
	c, ok := Classify("room/alice/send/join")
	if !ok {
		t.Fatal("expected match")
	}
	if got := c.ResTopic(); got != "room/alice/res/join" {
		t.Errorf("ResTopic = %q, want room/alice/res/join", got)
	}
}

func TestDecodeLogin(t *testing.T) {
	c, _ := Classify("member/alice/send/login")

	ev, err := Decode(c, []byte(`{"id":"alice-data","request_id":"r1","extra":"ignored"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	login, ok := ev.(LoginEvent)
	if !ok {
		t.Fatalf("expected LoginEvent, got %T", ev)
	}
	if login.DataID != "alice-data" {
		t.Errorf("DataID = %q", login.DataID)
	}
	if login.RequestID != "r1" {
		t.Errorf("RequestID = %q", login.RequestID)
	}
	if login.TopicID != "alice" {
		t.Errorf("TopicID = %q", login.TopicID)
	}

	// missing required field
	if _, err := Decode(c, []byte(`{}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload for missing id, got %v", err)
	}

	// malformed JSON
	if _, err := Decode(c, []byte(`{nope`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload for malformed JSON, got %v", err)
	}
}

func TestDecodeGameOver(t *testing.T) {
	c, _ := Classify("game/g1/send/game_over")

	ev, err := Decode(c, []byte(`{"win_team":1,"stats":[{"id":"u1","kills":3,"deaths":1,"assists":5}]}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	over := ev.(GameOverEvent)
	if over.WinTeam != 1 {
		t.Errorf("WinTeam = %d", over.WinTeam)
	}
	if len(over.Stats) != 1 || over.Stats[0].Kills != 3 {
		t.Errorf("Stats = %+v", over.Stats)
	}

	if _, err := Decode(c, []byte(`{"win_team":2}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload for win_team=2, got %v", err)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	// Verbs without required fields accept an empty payload.
	c, _ := Classify("room/alice/send/leave")
	ev, err := Decode(c, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := ev.(LeaveEvent); !ok {
		t.Fatalf("expected LeaveEvent, got %T", ev)
	}
}

func TestDecodeChooseVsBan(t *testing.T) {
	choose, _ := Classify("game/g1/send/choose")
	ban, _ := Classify("game/g1/send/ban")

	ev1, err := Decode(choose, []byte(`{"id":"u1","hero":"axe"}`))
	if err != nil {
		t.Fatal(err)
	}
	ev2, err := Decode(ban, []byte(`{"id":"u1","hero":"axe"}`))
	if err != nil {
		t.Fatal(err)
	}

	if ev1.EventKind() != KindChoose {
		t.Errorf("choose decoded as %d", ev1.EventKind())
	}
	if ev2.EventKind() != KindBan {
		t.Errorf("ban decoded as %d", ev2.EventKind())
	}
}

func TestDecodeCatalog(t *testing.T) {
	c, _ := Classify("manager/m/send/modify_equ")
	ev, err := Decode(c, []byte(`{"key":"sword-01","data":"{\"atk\":5}"}`))
	if err != nil {
		t.Fatal(err)
	}
	cat := ev.(KindedCatalogEvent)
	if cat.EventKind() != KindModifyEqu {
		t.Errorf("kind = %d", cat.EventKind())
	}
	if cat.Key != "sword-01" {
		t.Errorf("Key = %q", cat.Key)
	}

	// key required for CRUD verbs
	if _, err := Decode(c, []byte(`{}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload, got %v", err)
	}

	// equ_test has no required fields
	test, _ := Classify("manager/m/send/equ_test")
	if _, err := Decode(test, []byte(`{}`)); err != nil {
		t.Errorf("equ_test decode failed: %v", err)
	}
}

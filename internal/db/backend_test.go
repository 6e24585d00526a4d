package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scoreroom/internal/backend"
	"scoreroom/internal/model"
	"scoreroom/internal/realtime"
)

func newTestBackend(t *testing.T) (*Backend, *realtime.Hub) {
	t.Helper()
	conn, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	hub := realtime.NewHub(nil)
	return NewBackend(conn, hub, nil), hub
}

func newUser(t *testing.T, b *Backend) string {
	t.Helper()
	user, err := b.CreateAnonymousUser(context.Background())
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user.ID
}

func newRoom(t *testing.T, b *Backend, hostID, code string) model.Room {
	t.Helper()
	room, err := b.InsertRoom(context.Background(), model.Room{
		RoomCode: code,
		HostID:   hostID,
		RoomSettings: model.RoomSettings{
			InitialScore:   100,
			BaseMultiplier: 2,
			PaymentMode:    "winner_takes_all",
		},
	})
	if err != nil {
		t.Fatalf("insert room: %v", err)
	}
	return room
}

func seat(t *testing.T, b *Backend, roomID, playerID string, index, score int) {
	t.Helper()
	_, err := b.InsertPlayer(context.Background(), model.RoomPlayer{
		RoomID:       roomID,
		PlayerID:     playerID,
		SeatIndex:    index,
		CurrentScore: score,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("insert player: %v", err)
	}
}

func TestProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	id := newUser(t, b)

	profile, err := b.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Nickname != backend.DefaultNickname(id) {
		t.Fatalf("expected default nickname, got %q", profile.Nickname)
	}
	nickname := "Ada"
	updated, err := b.UpdateProfile(ctx, id, backend.ProfileUpdate{Nickname: &nickname})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Nickname != "Ada" {
		t.Fatalf("expected nickname Ada, got %q", updated.Nickname)
	}
	if _, err := b.UpdateProfile(ctx, "missing", backend.ProfileUpdate{Nickname: &nickname}); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoomCodeUniqueAmongOpenRooms(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	host := newUser(t, b)
	room := newRoom(t, b, host, "4321")

	_, err := b.InsertRoom(ctx, model.Room{RoomCode: "4321", HostID: host})
	if !errors.Is(err, backend.ErrCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}

	found, err := b.FindRoomByCode(ctx, "4321")
	if err != nil || found.ID != room.ID {
		t.Fatalf("expected to find open room, got %v", err)
	}
	if found.InitialScore != 100 || found.BaseMultiplier != 2 || found.Status != model.StatusWaiting {
		t.Fatalf("unexpected room %#v", found)
	}

	if _, err := b.SettleRoom(ctx, room.ID, nil); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := b.FindRoomByCode(ctx, "4321"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected finished room hidden, got %v", err)
	}
	if _, err := b.InsertRoom(ctx, model.Room{RoomCode: "4321", HostID: host}); err != nil {
		t.Fatalf("expected code reuse after finish, got %v", err)
	}
}

func TestUpdateRoomRejectsBackwardTransition(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	host := newUser(t, b)
	room := newRoom(t, b, host, "1111")

	playing := model.StatusPlaying
	updated, err := b.UpdateRoom(ctx, room.ID, backend.RoomUpdate{Status: &playing})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if updated.Status != model.StatusPlaying {
		t.Fatalf("expected playing, got %s", updated.Status)
	}
	waiting := model.StatusWaiting
	if _, err := b.UpdateRoom(ctx, room.ID, backend.RoomUpdate{Status: &waiting}); !errors.Is(err, backend.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := b.UpdateRoom(ctx, "missing", backend.RoomUpdate{Status: &playing}); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMembershipConstraints(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	host := newUser(t, b)
	guest := newUser(t, b)
	room := newRoom(t, b, host, "2222")
	seat(t, b, room.ID, host, 0, 100)

	_, err := b.InsertPlayer(ctx, model.RoomPlayer{RoomID: room.ID, PlayerID: guest, SeatIndex: 0, IsActive: true})
	if !errors.Is(err, backend.ErrDuplicate) {
		t.Fatalf("expected duplicate seat, got %v", err)
	}
	_, err = b.InsertPlayer(ctx, model.RoomPlayer{RoomID: room.ID, PlayerID: host, SeatIndex: 1, IsActive: true})
	if !errors.Is(err, backend.ErrDuplicate) {
		t.Fatalf("expected duplicate member, got %v", err)
	}
	seat(t, b, room.ID, guest, 1, 100)

	seats, err := b.TakenSeats(ctx, room.ID)
	if err != nil || len(seats) != 2 || seats[0] != 0 || seats[1] != 1 {
		t.Fatalf("unexpected seats %v (%v)", seats, err)
	}

	inactive := false
	member, err := b.UpdatePlayer(ctx, room.ID, guest, backend.PlayerUpdate{IsActive: &inactive})
	if err != nil || member.IsActive {
		t.Fatalf("expected inactive member, got %#v (%v)", member, err)
	}
	if member.Nickname != backend.DefaultNickname(guest) {
		t.Fatalf("expected profile nickname on membership, got %q", member.Nickname)
	}

	if err := b.DeletePlayer(ctx, room.ID, guest); err != nil {
		t.Fatalf("delete player: %v", err)
	}
	if _, err := b.GetMembership(ctx, room.ID, guest); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected membership gone, got %v", err)
	}
	if err := b.DeletePlayers(ctx, room.ID); err != nil {
		t.Fatalf("delete players: %v", err)
	}
	players, _ := b.ListPlayers(ctx, room.ID)
	if len(players) != 0 {
		t.Fatalf("expected empty roster, got %d", len(players))
	}
}

func TestRecordRoundIsAtomicAndContiguous(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	p1 := newUser(t, b)
	p2 := newUser(t, b)
	room := newRoom(t, b, p1, "3333")
	seat(t, b, room.ID, p1, 0, 0)
	seat(t, b, room.ID, p2, 1, 0)

	round, err := b.RecordRound(ctx, room.ID, p1, map[string]int{p1: 20, p2: -20})
	if err != nil {
		t.Fatalf("record round: %v", err)
	}
	if round.RoundNumber != 1 || round.Scores[p2] != -20 {
		t.Fatalf("unexpected round %#v", round)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.RecordRound(ctx, room.ID, p2, map[string]int{p1: 1, p2: -1}); err != nil {
				t.Errorf("record round: %v", err)
			}
		}()
	}
	wg.Wait()

	rounds, err := b.ListRounds(ctx, room.ID)
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != 11 {
		t.Fatalf("expected 11 rounds, got %d", len(rounds))
	}
	for i, r := range rounds {
		if r.RoundNumber != i+1 {
			t.Fatalf("expected round %d, got %d", i+1, r.RoundNumber)
		}
	}
	players, _ := b.ListPlayers(ctx, room.ID)
	if players[0].CurrentScore != 30 || players[1].CurrentScore != -30 {
		t.Fatalf("expected 30/-30, got %d/%d", players[0].CurrentScore, players[1].CurrentScore)
	}
}

func TestSettleRoomOnlyOnce(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	p1 := newUser(t, b)
	p2 := newUser(t, b)
	room := newRoom(t, b, p1, "5555")
	seat(t, b, room.ID, p1, 0, 120)
	seat(t, b, room.ID, p2, 1, 80)

	players, _ := b.ListPlayers(ctx, room.ID)
	settled, err := b.SettleRoom(ctx, room.ID, model.Settle(room.ID, players))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != model.StatusFinished {
		t.Fatalf("expected finished, got %s", settled.Status)
	}
	if _, err := b.SettleRoom(ctx, room.ID, model.Settle(room.ID, players)); !errors.Is(err, backend.ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}

	history, err := b.ListMatches(ctx, p1)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one match for p1, got %d (%v)", len(history), err)
	}
	if !history[0].IsWinner || history[0].FinalScore != 120 {
		t.Fatalf("unexpected match %#v", history[0])
	}

	events, err := b.Events(ctx, room.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	want := []string{eventRoomCreated, eventPlayerJoined, eventPlayerJoined, eventGameEnded}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}

	total, err := b.CountEvents(ctx, room.ID)
	if err != nil || total != int64(len(want)) {
		t.Fatalf("expected %d events counted, got %d (%v)", len(want), total, err)
	}
	page, err := b.EventsPage(ctx, room.ID, 2, 10)
	if err != nil || len(page) != 2 || page[0].Type != eventPlayerJoined || page[1].Type != eventGameEnded {
		t.Fatalf("unexpected second page %#v (%v)", page, err)
	}
}

func TestChangesArePublishedToRoomChannel(t *testing.T) {
	b, hub := newTestBackend(t)
	host := newUser(t, b)
	room := newRoom(t, b, host, "6666")

	got := make(chan realtime.Change, 4)
	ch := hub.Channel(realtime.RoomTopic(room.ID)).
		OnChange(realtime.Filter{Event: realtime.EventAll, Table: model.TableRoomPlayers, RoomID: room.ID}, func(c realtime.Change) {
			got <- c
		})
	subscribed := make(chan struct{})
	ch.Subscribe(func(status realtime.Status, err error) {
		if status == realtime.StatusSubscribed {
			close(subscribed)
		}
	})
	t.Cleanup(func() { hub.RemoveChannel(ch) })
	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscription")
	}

	seat(t, b, room.ID, host, 0, 0)
	var change realtime.Change
	select {
	case change = <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for membership change")
	}
	if change.Event != realtime.EventInsert {
		t.Fatalf("expected insert, got %s", change.Event)
	}
	var row model.RoomPlayer
	if err := change.DecodeNew(&row); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row.PlayerID != host || row.Nickname == "" {
		t.Fatalf("unexpected row %#v", row)
	}
}

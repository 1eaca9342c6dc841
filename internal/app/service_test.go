package app_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/derby/internal/adapters/automation"
	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/adapters/repository"
	"github.com/okian/derby/internal/app"
	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/internal/domain/narration"
	"github.com/okian/derby/internal/pipeline"
	"github.com/okian/derby/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

// harness wires a full controller on in-memory adapters with the simulator
// carrying every race.
type harness struct {
	store *repository.MemStore
	bus   *broker.Broker
	svc   *app.Service
}

func newHarness() *harness {
	store := repository.NewMemStore()
	bus := broker.New()
	provider := narration.NewProvider(narration.BackendCanned, narration.WithSeed(3))
	pipe := pipeline.New(provider, store, bus)
	worker := automation.NewWorker(nil, pipe, automation.WithSeed(5))

	svc, err := app.New(
		app.WithStore(store),
		app.WithBroker(bus),
		app.WithWorker(worker),
		app.WithPipeline(pipe),
	)
	if err != nil {
		panic(err)
	}
	return &harness{store: store, bus: bus, svc: svc}
}

func TestCreateRaceValidation(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh controller", t, func() {
		h := newHarness()
		defer h.bus.Close()

		Convey("When the roster has a single player", func() {
			_, err := h.svc.CreateRace(ctx, []model.PlayerSpec{{Name: "ada"}})

			Convey("Then the race is rejected", func() {
				So(errors.Is(err, app.ErrRosterTooSmall), ShouldBeTrue)
			})
		})

		Convey("When two slots share a name", func() {
			_, err := h.svc.CreateRace(ctx, []model.PlayerSpec{
				{Name: "ada"}, {Name: "Ada"},
			})

			Convey("Then the race is rejected", func() {
				So(errors.Is(err, app.ErrDuplicatePlayer), ShouldBeTrue)
			})
		})

		Convey("When a player burns a shield they do not own", func() {
			_, err := h.svc.CreateRace(ctx, []model.PlayerSpec{
				{Name: "ada", UseShield: true}, {Name: "bjarne"},
			})

			Convey("Then the race is rejected", func() {
				So(errors.Is(err, app.ErrShieldUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the roster is valid", func() {
			race, err := h.svc.CreateRace(ctx, []model.PlayerSpec{
				{Name: "ada"}, {Name: "bjarne"},
			})

			Convey("Then a pending race with its roster exists", func() {
				So(err, ShouldBeNil)
				So(race.Status, ShouldEqual, model.RacePending)
				detail, derr := h.svc.Race(ctx, race.ID)
				So(derr, ShouldBeNil)
				So(len(detail.Participants), ShouldEqual, 2)
			})

			Convey("And unknown players were registered on the fly", func() {
				So(err, ShouldBeNil)
				user, uerr := h.store.GetUserByName(ctx, "ada")
				So(uerr, ShouldBeNil)
				So(user.Shields, ShouldEqual, 0)
			})
		})
	})
}

func TestStartRaceLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a pending race with one shield in play", t, func() {
		h := newHarness()
		defer h.bus.Close()
		_, err := h.store.CreateUser(ctx, "ada", 1)
		So(err, ShouldBeNil)
		race, err := h.svc.CreateRace(ctx, []model.PlayerSpec{
			{Name: "ada", UseShield: true},
			{Name: "bjarne"},
			{Name: "curry"},
			{Name: "dennis"},
		})
		So(err, ShouldBeNil)
		finished := h.bus.Subscribe(broker.TopicFinished)
		defer finished.Unsubscribe()

		Convey("When the race runs to completion", func() {
			So(h.svc.StartRace(ctx, race.ID), ShouldBeNil)

			Convey("Then the race is finished with a verdict", func() {
				got, gerr := h.store.GetRace(ctx, race.ID)
				So(gerr, ShouldBeNil)
				So(got.Status, ShouldEqual, model.RaceFinished)
				So(got.Verdict, ShouldNotBeNil)
				So(*got.Verdict, ShouldContainSubstring, "scarred")
				So(got.FinishedAt, ShouldNotBeNil)
			})

			Convey("And every participant holds a distinct final rank", func() {
				participants, perr := h.store.ListParticipants(ctx, race.ID)
				So(perr, ShouldBeNil)
				ranks := map[int]bool{}
				scars := 0
				for _, p := range participants {
					So(p.FinalRank, ShouldNotBeNil)
					So(ranks[*p.FinalRank], ShouldBeFalse)
					ranks[*p.FinalRank] = true
					if p.GotScarred {
						scars++
					}
				}
				So(scars, ShouldEqual, 2)
			})

			Convey("And the shield kept ada clean while burning out", func() {
				participants, _ := h.store.ListParticipants(ctx, race.ID)
				for _, p := range participants {
					if p.Name == "ada" {
						So(p.GotScarred, ShouldBeFalse)
					}
				}
				user, uerr := h.store.GetUserByName(ctx, "ada")
				So(uerr, ShouldBeNil)
				So(user.Shields, ShouldEqual, 0)
				So(user.ShieldsUsed, ShouldEqual, 1)
				So(user.Scars, ShouldEqual, 0)
			})

			Convey("And the victims carry exactly one scar each", func() {
				participants, _ := h.store.ListParticipants(ctx, race.ID)
				for _, p := range participants {
					user, uerr := h.store.GetUser(ctx, p.UserID)
					So(uerr, ShouldBeNil)
					if p.GotScarred {
						So(user.Scars, ShouldEqual, 1)
						So(user.TotalScars, ShouldEqual, 1)
					} else {
						So(user.Scars, ShouldEqual, 0)
					}
				}
			})

			Convey("And the commentary log is ordered and non-empty", func() {
				entries, cerr := h.svc.Commentary(ctx, race.ID)
				So(cerr, ShouldBeNil)
				So(len(entries), ShouldBeGreaterThanOrEqualTo, 2)
				for i := 1; i < len(entries); i++ {
					So(entries[i].AtSeconds, ShouldBeGreaterThanOrEqualTo, entries[i-1].AtSeconds)
				}
			})

			Convey("And a finished event names the winner and victims", func() {
				select {
				case ev := <-finished.C:
					summary, ok := ev.Payload.(app.FinishSummary)
					So(ok, ShouldBeTrue)
					So(summary.RaceID, ShouldEqual, race.ID)
					So(summary.Winner, ShouldNotBeEmpty)
					So(len(summary.Victims), ShouldEqual, 2)
					So(summary.Simulated, ShouldBeTrue)
				case <-time.After(time.Second):
					So("timed out waiting for finished event", ShouldBeEmpty)
				}
			})

			Convey("And starting the same race again is rejected", func() {
				err := h.svc.StartRace(ctx, race.ID)
				So(errors.Is(err, repository.ErrInvalidTransition), ShouldBeTrue)
			})
		})
	})
}

// brokenRunner returns a ranking the roster cannot absorb.
type brokenRunner struct{}

func (brokenRunner) Run(_ context.Context, _ int64, _ []model.PlayerSpec) model.RaceResult {
	return model.RaceResult{Ranking: []model.RankedPlayer{{Rank: 1, Name: "nobody"}}}
}

func TestStartRaceFailure(t *testing.T) {
	ctx := context.Background()

	Convey("Given a runner whose ranking does not match the roster", t, func() {
		store := repository.NewMemStore()
		bus := broker.New()
		defer bus.Close()
		provider := narration.NewProvider(narration.BackendCanned)
		pipe := pipeline.New(provider, store, bus)
		svc, err := app.New(
			app.WithStore(store),
			app.WithBroker(bus),
			app.WithWorker(brokenRunner{}),
			app.WithPipeline(pipe),
		)
		So(err, ShouldBeNil)
		race, err := svc.CreateRace(ctx, []model.PlayerSpec{{Name: "ada"}, {Name: "bjarne"}})
		So(err, ShouldBeNil)
		status := bus.Subscribe(broker.TopicStatus)
		defer status.Unsubscribe()

		Convey("When the race runs", func() {
			err := svc.StartRace(ctx, race.ID)

			Convey("Then the race fails and stays failed", func() {
				So(errors.Is(err, app.ErrRankingMismatch), ShouldBeTrue)
				got, gerr := store.GetRace(ctx, race.ID)
				So(gerr, ShouldBeNil)
				So(got.Status, ShouldEqual, model.RaceFailed)
			})

			Convey("And running plus failed status events were published", func() {
				statuses := []model.RaceStatus{}
				timeout := time.After(time.Second)
				for len(statuses) < 2 {
					select {
					case ev := <-status.C:
						update, ok := ev.Payload.(app.StatusUpdate)
						So(ok, ShouldBeTrue)
						statuses = append(statuses, update.Status)
					case <-timeout:
						So("timed out waiting for status events", ShouldBeEmpty)
					}
				}
				So(statuses[0], ShouldEqual, model.RaceRunning)
				So(statuses[1], ShouldEqual, model.RaceFailed)
			})

			Convey("And no user gained a scar", func() {
				users, uerr := svc.Standings(ctx)
				So(uerr, ShouldBeNil)
				for _, u := range users {
					So(u.TotalScars, ShouldEqual, 0)
				}
			})
		})
	})
}

func TestStandings(t *testing.T) {
	ctx := context.Background()

	Convey("Given users with mixed counters", t, func() {
		h := newHarness()
		defer h.bus.Close()
		_, _ = h.store.CreateUser(ctx, "curry", 0)
		_, _ = h.store.CreateUser(ctx, "ada", 2)
		bjarne, _ := h.store.CreateUser(ctx, "bjarne", 2)
		bjarne.TotalScars = 3
		So(h.store.UpdateUserStats(ctx, bjarne), ShouldBeNil)

		Convey("When standings are read", func() {
			users, err := h.svc.Standings(ctx)

			Convey("Then shields rank first and scars break ties", func() {
				So(err, ShouldBeNil)
				So(len(users), ShouldEqual, 3)
				So(users[0].Name, ShouldEqual, "ada")
				So(users[1].Name, ShouldEqual, "bjarne")
				So(users[2].Name, ShouldEqual, "curry")
			})
		})
	})
}

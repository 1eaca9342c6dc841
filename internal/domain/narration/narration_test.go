package narration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/okian/derby/internal/domain/model"
	"github.com/okian/derby/internal/domain/narration"
	"github.com/okian/derby/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func TestPhaseAt(t *testing.T) {
	Convey("Given the fixed snapshot offsets", t, func() {
		Convey("Then each maps to its narrative phase", func() {
			So(narration.PhaseAt(0), ShouldEqual, narration.PhaseStart)
			So(narration.PhaseAt(5), ShouldEqual, narration.PhaseBuild)
			So(narration.PhaseAt(15), ShouldEqual, narration.PhaseBuild)
			So(narration.PhaseAt(20), ShouldEqual, narration.PhaseClimax)
			So(narration.PhaseAt(25), ShouldEqual, narration.PhaseClimax)
			So(narration.PhaseAt(30), ShouldEqual, narration.PhaseSprint)
			So(narration.PhaseAt(33), ShouldEqual, narration.PhaseSprint)
		})
	})
}

func TestPicker(t *testing.T) {
	Convey("Given a seeded concept picker", t, func() {
		picker := narration.NewPicker(7)

		Convey("When concepts are drawn repeatedly", func() {
			prev := picker.Pick()

			Convey("Then neither the concept nor its domain repeats back to back", func() {
				for i := 0; i < 50; i++ {
					next := picker.Pick()
					So(next.Text, ShouldNotEqual, prev.Text)
					So(next.Domain, ShouldNotEqual, prev.Domain)
					prev = next
				}
			})
		})
	})
}

func TestCannedProvider(t *testing.T) {
	Convey("Given the canned backend", t, func() {
		provider := narration.NewProvider(narration.BackendCanned, narration.WithSeed(42))

		Convey("When narrating a mid-race snapshot", func() {
			line, err := provider.Narrate(context.Background(), narration.Request{
				RaceID:    1,
				AtSeconds: 10,
				Names:     []string{"ada", "bjarne"},
			})

			Convey("Then a non-empty line is produced without error", func() {
				So(err, ShouldBeNil)
				So(line, ShouldNotBeEmpty)
			})
		})

		Convey("When narrating the final results", func() {
			line, err := provider.Narrate(context.Background(), narration.Request{
				RaceID:  1,
				IsFinal: true,
				Results: []model.RankedPlayer{
					{Rank: 1, Name: "ada"},
					{Rank: 2, Name: "bjarne"},
				},
				Shielded: []string{"bjarne"},
			})

			Convey("Then the line names the winner and the shield user", func() {
				So(err, ShouldBeNil)
				So(line, ShouldContainSubstring, "ada")
				So(line, ShouldContainSubstring, "bjarne")
			})
		})

		Convey("When two consecutive lines are generated for the same phase", func() {
			first, _ := provider.Narrate(context.Background(), narration.Request{AtSeconds: 10})
			second, _ := provider.Narrate(context.Background(), narration.Request{AtSeconds: 15, History: []string{first}})

			Convey("Then they differ", func() {
				So(second, ShouldNotEqual, first)
			})
		})
	})
}

func TestVisionProvider(t *testing.T) {
	Convey("Given the vision backend without credentials", t, func() {
		provider := narration.NewProvider(narration.BackendVision)

		Convey("When narrating any snapshot", func() {
			line, err := provider.Narrate(context.Background(), narration.Request{AtSeconds: 33})

			Convey("Then the phase-keyed fallback line is returned without error", func() {
				So(err, ShouldBeNil)
				So(line, ShouldEqual, narration.FallbackLine(narration.PhaseSprint))
			})
		})
	})

	Convey("Given a generation service that answers", t, func() {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			text := `"The pack splits around the hairpin like a dropped deck of cards!"`
			if calls == 1 {
				text = "Wow!"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
		}))
		defer srv.Close()

		provider := narration.NewProvider(narration.BackendVision,
			narration.WithEndpoint(srv.URL),
			narration.WithAPIKey("test-key"),
			narration.WithSeed(1),
		)

		Convey("When the first answer is implausibly short", func() {
			line, err := provider.Narrate(context.Background(), narration.Request{AtSeconds: 25})

			Convey("Then the call is retried once and the answer sanitized", func() {
				So(err, ShouldBeNil)
				So(calls, ShouldEqual, 2)
				So(line, ShouldEqual, "The pack splits around the hairpin like a dropped deck of cards!")
			})
		})
	})

	Convey("Given a generation service that errors", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		provider := narration.NewProvider(narration.BackendVision,
			narration.WithEndpoint(srv.URL),
			narration.WithAPIKey("test-key"),
		)

		Convey("When narrating", func() {
			line, err := provider.Narrate(context.Background(), narration.Request{AtSeconds: 2})

			Convey("Then the fallback line is returned and no error surfaces", func() {
				So(err, ShouldBeNil)
				So(line, ShouldEqual, narration.FallbackLine(narration.PhaseStart))
			})
		})
	})
}

func TestSanitize(t *testing.T) {
	Convey("Given generated text with markup artifacts", t, func() {
		Convey("Then quoting, markdown and prefixes are stripped", func() {
			So(narration.Sanitize(`"A clean line!"`), ShouldEqual, "A clean line!")
			So(narration.Sanitize("**Bold** call"), ShouldEqual, "Bold call")
			So(narration.Sanitize("Commentary: the leaders clash"), ShouldEqual, "the leaders clash")
			So(narration.Sanitize("first line\nsecond line"), ShouldEqual, "first line")
		})
	})
}

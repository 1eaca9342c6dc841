package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/okian/derby/internal/adapters/automation"
	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/adapters/http/api"
	"github.com/okian/derby/internal/adapters/repository"
	"github.com/okian/derby/internal/app"
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

type fixture struct {
	store *repository.MemStore
	bus   *broker.Broker
	srv   *httptest.Server
}

func newFixture() *fixture {
	store := repository.NewMemStore()
	bus := broker.New()
	provider := narration.NewProvider(narration.BackendCanned, narration.WithSeed(9))
	pipe := pipeline.New(provider, store, bus)
	worker := automation.NewWorker(nil, pipe,
		automation.WithSeed(13),
		automation.WithPublisher(bus),
	)
	svc, err := app.New(
		app.WithStore(store),
		app.WithBroker(bus),
		app.WithWorker(worker),
		app.WithPipeline(pipe),
	)
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	api.NewServer(svc, bus, api.WithHeartbeat(20*time.Millisecond)).Register(mux)
	return &fixture{store: store, bus: bus, srv: httptest.NewServer(mux)}
}

func (f *fixture) close() {
	f.srv.Close()
	f.bus.Close()
}

func (f *fixture) postJSON(path, body string) (*http.Response, map[string]any) {
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (f *fixture) getJSON(path string, out any) *http.Response {
	resp, err := http.Get(f.srv.URL + path)
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp
}

const rosterBody = `{"players":[{"name":"ada"},{"name":"bjarne"},{"name":"curry"}]}`

func TestRaceEndpoints(t *testing.T) {
	Convey("Given the API over a fresh controller", t, func() {
		f := newFixture()
		defer f.close()

		Convey("When a valid roster is posted", func() {
			resp, body := f.postJSON("/races", rosterBody)

			Convey("Then a pending race is created", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				So(body["status"], ShouldEqual, "pending")
				So(body["id"], ShouldNotBeNil)
			})
		})

		Convey("When the roster is too small", func() {
			resp, body := f.postJSON("/races", `{"players":[{"name":"ada"}]}`)

			Convey("Then the request is rejected with 400", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(body["code"], ShouldEqual, "invalid_roster")
			})
		})

		Convey("When a shield burn has no shield behind it", func() {
			resp, body := f.postJSON("/races",
				`{"players":[{"name":"ada","use_shield":true},{"name":"bjarne"}]}`)

			Convey("Then the request is rejected with 409", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusConflict)
				So(body["code"], ShouldEqual, "shield_unavailable")
			})
		})

		Convey("When the body is not JSON", func() {
			resp, body := f.postJSON("/races", "not json")

			Convey("Then the request is rejected with 400", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(body["code"], ShouldEqual, "invalid_body")
			})
		})

		Convey("When an unknown race is fetched", func() {
			resp := f.getJSON("/races/99", nil)

			Convey("Then 404 comes back", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the race id is garbage", func() {
			resp := f.getJSON("/races/banana", nil)

			Convey("Then 400 comes back", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the health probe is hit", func() {
			var body map[string]any
			resp := f.getJSON("/healthz", &body)

			Convey("Then the service reports ok", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["status"], ShouldEqual, "ok")
			})
		})
	})
}

func TestStartRaceEndpoint(t *testing.T) {
	Convey("Given a pending race", t, func() {
		f := newFixture()
		defer f.close()
		_, created := f.postJSON("/races", rosterBody)
		id := int64(created["id"].(float64))
		path := "/races/" + jsonID(id)

		Convey("When the start endpoint is hit", func() {
			resp, body := f.postJSON(path+"/start", "")
			So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
			So(body["status"], ShouldEqual, "started")

			Convey("Then the race eventually finishes with full results", func() {
				var detail map[string]any
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					f.getJSON(path, &detail)
					if detail["status"] == "finished" {
						break
					}
					time.Sleep(20 * time.Millisecond)
				}
				So(detail["status"], ShouldEqual, "finished")
				So(detail["verdict"], ShouldNotBeNil)
				participants := detail["participants"].([]any)
				So(len(participants), ShouldEqual, 3)
				for _, p := range participants {
					So(p.(map[string]any)["final_rank"], ShouldNotBeNil)
				}

				Convey("And the commentary log is served", func() {
					var entries []map[string]any
					resp := f.getJSON(path+"/commentary", &entries)
					So(resp.StatusCode, ShouldEqual, http.StatusOK)
					So(len(entries), ShouldBeGreaterThanOrEqualTo, 2)
				})

				Convey("And starting again conflicts", func() {
					resp, _ := f.postJSON(path+"/start", "")
					So(resp.StatusCode, ShouldEqual, http.StatusConflict)
				})

				Convey("And the standings reflect the scars", func() {
					var standings []map[string]any
					resp := f.getJSON("/standings", &standings)
					So(resp.StatusCode, ShouldEqual, http.StatusOK)
					scars := 0
					for _, u := range standings {
						scars += int(u["total_scars"].(float64))
					}
					So(scars, ShouldEqual, 2)
				})
			})
		})
	})
}

func TestLiveStream(t *testing.T) {
	Convey("Given a pending race with a live viewer", t, func() {
		f := newFixture()
		defer f.close()
		_, created := f.postJSON("/races", rosterBody)
		id := int64(created["id"].(float64))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			f.srv.URL+"/races/"+jsonID(id)+"/live", nil)
		So(err, ShouldBeNil)
		resp, err := http.DefaultClient.Do(req)
		So(err, ShouldBeNil)
		defer resp.Body.Close()
		So(resp.Header.Get("Content-Type"), ShouldEqual, "text/event-stream")
		reader := bufio.NewReader(resp.Body)

		Convey("When the stream opens", func() {
			event, data := readSSE(reader)

			Convey("Then the first event is the race status", func() {
				So(event, ShouldEqual, "status")
				So(data, ShouldContainSubstring, `"pending"`)
			})

			Convey("And subscriptions for all three topics exist", func() {
				So(f.bus.SubscriberCount(broker.TopicFrame), ShouldEqual, 1)
				So(f.bus.SubscriberCount(broker.TopicCommentary), ShouldEqual, 1)
				So(f.bus.SubscriberCount(broker.TopicFinished), ShouldEqual, 1)
			})

			Convey("And pings keep arriving while nothing happens", func() {
				event, _ := readSSE(reader)
				So(event, ShouldEqual, "ping")
			})

			Convey("And when the viewer disconnects mid-stream", func() {
				cancel()

				Convey("Then every subscription is torn down", func() {
					deadline := time.Now().Add(2 * time.Second)
					for time.Now().Before(deadline) {
						if f.bus.SubscriberCount(broker.TopicFrame) == 0 &&
							f.bus.SubscriberCount(broker.TopicCommentary) == 0 &&
							f.bus.SubscriberCount(broker.TopicFinished) == 0 {
							break
						}
						time.Sleep(10 * time.Millisecond)
					}
					So(f.bus.SubscriberCount(broker.TopicFrame), ShouldEqual, 0)
					So(f.bus.SubscriberCount(broker.TopicCommentary), ShouldEqual, 0)
					So(f.bus.SubscriberCount(broker.TopicFinished), ShouldEqual, 0)
				})
			})
		})
	})

	Convey("Given a live request for an unknown race", t, func() {
		f := newFixture()
		defer f.close()

		Convey("When the stream is requested", func() {
			resp, err := http.Get(f.srv.URL + "/races/404/live")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then 404 comes back and nothing is subscribed", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
				So(f.bus.SubscriberCount(broker.TopicFrame), ShouldEqual, 0)
			})
		})
	})
}

// readSSE consumes one event frame, returning its name and data line.
func readSSE(r *bufio.Reader) (string, string) {
	var event, data string
	for {
		line, err := r.ReadString('\n')
		So(err, ShouldBeNil)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}

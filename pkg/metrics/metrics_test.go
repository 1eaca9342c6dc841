package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test-subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the package-level recorders", t, func() {
		Convey("When recording race lifecycle metrics", func() {
			So(func() {
				RecordRaceStarted()
				RecordRaceFinished()
				RecordRaceFailed()
				RecordRaceDuration(35.2)
			}, ShouldNotPanic)
		})

		Convey("When recording commentary metrics", func() {
			So(func() {
				RecordCommentaryGenerated()
				RecordCommentaryFallback()
				RecordCommentaryDropped()
				RecordCommentaryPersistError()
				RecordNarrationLatency(120)
				UpdateActiveChains(2)
			}, ShouldNotPanic)
		})

		Convey("When recording broker and live metrics", func() {
			So(func() {
				RecordBrokerPublished("commentary")
				RecordBrokerDelivered()
				RecordBrokerDropped()
				UpdateBrokerSubscribers("frame", 3)
				UpdateLiveStreamsOpen(1)
				RecordLiveHeartbeat()
			}, ShouldNotPanic)
		})

		Convey("When recording automation metrics", func() {
			So(func() {
				RecordSnapshotCaptured()
				RecordSnapshotError()
				RecordExtractionFallback()
				RecordSimulatorFallback()
			}, ShouldNotPanic)
		})

		Convey("When recording HTTP and system metrics", func() {
			So(func() {
				RecordHTTPRequest("races_get", "GET", "200")
				RecordHTTPRequestDuration("races_get", "GET", "200", 12)
				RecordErrorByComponent("pipeline", "chain_full")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(42)
			}, ShouldNotPanic)
		})
	})
}

func TestRegistryGathers(t *testing.T) {
	Convey("Given the global registry", t, func() {
		RecordRaceStarted()
		RecordBrokerPublished("status")

		Convey("When gathering", func() {
			families, err := GetRegistry().Gather()

			Convey("Then registered race metrics are present", func() {
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, mf := range families {
					names[mf.GetName()] = true
				}
				So(names["derby_race_started_total"], ShouldBeTrue)
				So(names["derby_broker_published_total"], ShouldBeTrue)
			})
		})
	})
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/snackychef/auth-service/internal/bucketing"
	"github.com/snackychef/auth-service/internal/client"
	"github.com/snackychef/auth-service/internal/config"
	"github.com/snackychef/auth-service/internal/model"
	"github.com/snackychef/auth-service/internal/util"
)

const (
	sinkTimeout  = 5 * time.Second
	chQueueSize  = 256
	chBatchSize  = 64
	chFlushEvery = 2 * time.Second
)

const insertAuthEvents = `INSERT INTO auth_events (
    event_bucket, user_id, event_date, event_time,
    event_type, ip_address, user_agent, details
)`

const createAuthEvents = `CREATE TABLE IF NOT EXISTS auth_events (
    event_bucket Int64,
    user_id      String,
    event_date   String,
    event_time   DateTime,
    event_type   String,
    ip_address   String,
    user_agent   String,
    details      String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(event_time)
ORDER BY (event_bucket, event_date, event_time)`

// Recorder fans auth events out to Kafka, ClickHouse and Elasticsearch.
// Every sink is optional; a nil client is skipped. Recording is fire and
// forget: it runs off the request goroutine with its own deadline and
// failures are logged, never returned. ClickHouse writes are queued and
// flushed in batches by a background goroutine.
type Recorder struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	buckets    *bucketing.Manager
	topic      string
	index      string

	chQueue chan model.AuthEvent
	chDone  chan struct{}
}

func NewRecorder(
	kafka *client.KafkaProducer,
	clickhouse *client.ClickHouseClient,
	es *client.ESClient,
	buckets *bucketing.Manager,
	cfg *config.Config,
) *Recorder {
	r := &Recorder{
		kafka:      kafka,
		clickhouse: clickhouse,
		es:         es,
		buckets:    buckets,
		topic:      cfg.Kafka.EventTopic,
		index:      cfg.Elasticsearch.Index,
	}
	if clickhouse != nil {
		r.chQueue = make(chan model.AuthEvent, chQueueSize)
		r.chDone = make(chan struct{})
		go r.flushClickhouse()
	}
	return r
}

// EnsureSchema creates the ClickHouse events table. A nil client is a
// no-op so startup works without the analytics stack.
func EnsureSchema(ctx context.Context, clickhouse *client.ClickHouseClient) error {
	if clickhouse == nil {
		return nil
	}
	return clickhouse.Exec(ctx, createAuthEvents)
}

// Record fans the event out asynchronously.
func (r *Recorder) Record(ctx context.Context, event model.AuthEvent) {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventDate = r.buckets.GetDateBucket(event.EventTime)
	event.EventBucket = r.buckets.GetEventBucket(event.UserID)

	r.enqueueClickhouse(event)

	go func() {
		sinkCtx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()

		r.recordKafka(sinkCtx, event)
		r.recordElasticsearch(sinkCtx, event)
	}()
}

// Close drains the ClickHouse queue and flushes the last batch. Callers
// must not Record after Close.
func (r *Recorder) Close() {
	if r.chQueue == nil {
		return
	}
	close(r.chQueue)
	<-r.chDone
}

func (r *Recorder) recordKafka(ctx context.Context, event model.AuthEvent) {
	if r.kafka == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to marshal auth event", util.ErrorField(err))
		return
	}

	err = r.kafka.ProduceMessage(ctx, r.topic, []byte(event.UserID), payload, map[string]string{
		"event_type": event.EventType,
	})
	if err != nil {
		util.Warn("kafka auth event dropped",
			util.String("event_type", event.EventType), util.ErrorField(err))
	}
}

func (r *Recorder) enqueueClickhouse(event model.AuthEvent) {
	if r.chQueue == nil {
		return
	}
	select {
	case r.chQueue <- event:
	default:
		util.Warn("clickhouse event queue full, auth event dropped",
			util.String("event_type", event.EventType))
	}
}

func (r *Recorder) flushClickhouse() {
	defer close(r.chDone)

	ticker := time.NewTicker(chFlushEvery)
	defer ticker.Stop()

	batch := make([]model.AuthEvent, 0, chBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := r.clickhouse.BatchInsert(ctx, insertAuthEvents, eventRows(batch))
		cancel()
		if err != nil {
			util.Warn("clickhouse auth events dropped",
				util.Int("count", len(batch)), util.ErrorField(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-r.chQueue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= chBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// eventRows maps events onto the auth_events column order.
func eventRows(events []model.AuthEvent) [][]interface{} {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			int64(e.EventBucket), e.UserID, e.EventDate, e.EventTime,
			e.EventType, e.IPAddress, e.UserAgent, e.Details,
		})
	}
	return rows
}

func (r *Recorder) recordElasticsearch(ctx context.Context, event model.AuthEvent) {
	if r.es == nil {
		return
	}

	docID := fmt.Sprintf("%s-%s", event.UserID, uuid.New().String())
	res, err := r.es.IndexDocument(ctx, r.index, docID, event)
	if err != nil {
		util.Warn("elasticsearch auth event dropped",
			util.String("event_type", event.EventType), util.ErrorField(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		util.Warn("elasticsearch rejected auth event",
			util.String("event_type", event.EventType),
			util.String("status", res.Status()))
	}
}

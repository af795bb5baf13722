package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ian-magat0512/ubind-sub022/core/es"
)

const (
	defaultSubjectPrefix = "ubind.es"
	defaultStreamName    = "UBIND_ES"
)

type EventStoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is the prefix events are published under
	StreamName    string
}

// EventStore persists aggregate streams in a JetStream stream with one
// subject per tenant-scoped aggregate: <prefix>.<tenant>.<aggType>.<aggID>.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		FirstSeq: 1,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("ensured", slog.Any("stream", streamInfo))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Load(
	ctx context.Context,
	stream es.StreamID,
	opts ...es.StoreLoadOption,
) (loadedEvents []es.Envelope, err error) {

	if err = stream.Validate(); err != nil {
		return nil, err
	}

	loadOpts := es.NewStoreLoadOptions(opts...)

	var (
		startAt = time.Now()
		subj    = e.subjectForStream(stream)
	)

	defer func() {
		if err == nil {
			e.log.Debug(
				"loaded events",
				stream.SlogAttr(),
				slog.Group(
					"opts",
					loadOpts.StartVersion.SlogAttrWithKey("start_version"),
					slog.Uint64("start_seq", loadOpts.StartSeq),
				),
				slog.Int("count", len(loadedEvents)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	// bound the replay at the stream's current tail
	var mre *es.Envelope
	mre, err = e.lastEventForStream(ctx, stream)
	if err != nil {
		return nil, err
	}
	if mre == nil {
		return nil, es.ErrAggregateNotFound
	}
	endSeq := mre.Seq

	consumerCfg := jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	}
	if loadOpts.StartSeq > 0 {
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerCfg.OptStartSeq = loadOpts.StartSeq
	}
	cc, err := e.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, err
	}

	loadedEvents, err = e.consumeEvents(ctx, cc, endSeq)
	if err != nil {
		return nil, err
	}

	if loadOpts.StartVersion > 0 {
		filtered := loadedEvents[:0]
		for _, ev := range loadedEvents {
			if ev.Version >= loadOpts.StartVersion {
				filtered = append(filtered, ev)
			}
		}
		loadedEvents = filtered
	}

	return loadedEvents, nil
}

func (e *EventStore) consumeEvents(
	ctx context.Context,
	cc jetstream.Consumer,
	endSeq uint64,
) (loadedEvents []es.Envelope, err error) {

	var (
		mb  jetstream.MessageBatch
		msg jetstream.Msg
		ev  *es.Envelope
	)

outer:

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err = cc.FetchNoWait(100)
		if err != nil {
			return nil, err
		}
		if mb.Error() != nil {
			return nil, mb.Error()
		}

		empty := true

		for msg = range mb.Messages() {
			empty = false
			ev, err = e.decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to decode message: %w", err)
			}

			loadedEvents = append(loadedEvents, *ev)

			if endSeq > 0 && ev.Seq >= endSeq {
				break outer
			}
		}

		if empty {
			break
		}
	}

	return loadedEvents, nil
}

func (e *EventStore) Append(
	ctx context.Context,
	stream es.StreamID,
	expectedVersion es.Version,
	events []es.Envelope,
) (res *es.AppendResult, err error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	if err = stream.Validate(); err != nil {
		return nil, err
	}

	// read the persisted tail for the conditional append
	last, err := e.lastEventForStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream tail: %w", err)
	}
	var (
		lastVersion es.Version
		lastSubjSeq uint64
	)
	if last != nil {
		lastVersion = last.Version
		lastSubjSeq = last.Seq
	}

	if lastVersion != expectedVersion {
		return nil, fmt.Errorf(
			"%w: expected version %d, got %d (%s)",
			es.ErrConcurrencyConflict,
			expectedVersion,
			lastVersion,
			stream,
		)
	}

	// Each publish pins the subject's last sequence, so a concurrent
	// writer that slipped past the version read still loses the race.
	var lastSeq uint64
	for i, ev := range events {
		if ev.Version != expectedVersion+es.Version(i)+1 {
			return nil, fmt.Errorf(
				"%w: event version %d does not extend stream at version %d",
				es.ErrConcurrencyConflict, ev.Version, expectedVersion,
			)
		}
		lastSeq, err = e.append(ctx, stream, ev, lastSubjSeq)
		if err != nil {
			return nil, err
		}
		lastSubjSeq = lastSeq
	}

	return &es.AppendResult{LastSeq: lastSeq}, nil
}

func (e *EventStore) append(ctx context.Context, stream es.StreamID, ev es.Envelope, expectLastSubjSeq uint64) (seq uint64, err error) {
	err = ev.Validate()
	if err != nil {
		return 0, fmt.Errorf("failed to validate event: %w", err)
	}

	subject := e.subjectForStream(stream)
	msg := natsgo.NewMsg(subject)
	msg.Header.Set("x-event-type", ev.Type)
	msg.Header.Set("x-tenant", stream.Tenant)
	msg.Header.Set("x-aggregate-type", stream.AggregateType)
	msg.Header.Set("x-aggregate-id", stream.AggregateID)
	msg.Data, err = json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectLastSequencePerSubject(expectLastSubjSeq),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return 0, fmt.Errorf("%w: %s: %s", es.ErrConcurrencyConflict, stream, err)
		}
		return 0, fmt.Errorf("failed to append to subject %s %s: %w", subject, ev.Type, err)
	}

	return ack.Sequence, nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {

	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func (e *EventStore) decodeMsg(msg jetstream.Msg) (env *es.Envelope, err error) {
	var md *jetstream.MsgMetadata
	md, err = msg.Metadata()
	if err != nil {
		return nil, err
	}

	env = &es.Envelope{}
	err = json.Unmarshal(msg.Data(), env)
	if err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

func (e *EventStore) lastEventForStream(ctx context.Context, stream es.StreamID) (lastMsg *es.Envelope, err error) {
	subject := e.subjectForStream(stream)
	if lm, getLastErr := e.stream.GetLastMsgForSubject(ctx, subject); getLastErr != nil {
		if errors.Is(getLastErr, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, getLastErr
	} else if lm != nil {
		lastMsg = &es.Envelope{}
		err = json.Unmarshal(lm.Data, lastMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal last message for subject %q: %w", subject, err)
		}
		lastMsg.Seq = lm.Sequence
	}
	return
}

var _ es.EventStore = &EventStore{}

func (e *EventStore) subjectForStream(s es.StreamID) string {
	return e.subjectPrefix + "." + s.Tenant + "." + s.AggregateType + "." + s.AggregateID
}

// Command generate-test-data publishes synthetic escrow offer events to the events topic so
// the risk-engine and storage-writer can be exercised without a ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	kafkautil "github.com/afikmenashe/orderflow-pipeline/pkg/kafka"
	"github.com/afikmenashe/orderflow-pipeline/pkg/shared"

	"github.com/segmentio/kafka-go"
)

const (
	// Batch size for WriteMessages
	batchSize = 500

	largeAmount = 5_000_000_000
)

var (
	makers = []string{"makerA", "makerB", "makerC", "makerD", "makerE", "makerF", "makerG", "makerH"}
	assets = []string{"mintUSDC", "mintSOL", "mintBONK", "mintJUP"}
)

type options struct {
	offers         int
	burstMakers    int
	burstSize      int
	redeliverRatio float64
	shuffle        bool
	seed           int64
	startMs        uint64
}

func main() {
	var (
		brokers string
		topic   string
		opts    options
	)
	flag.StringVar(&brokers, "kafka-brokers", shared.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&topic, "events-topic", shared.GetEnvOrDefault("EVENTS_TOPIC", "escrow.events.v1"), "Kafka topic for normalized events")
	flag.IntVar(&opts.offers, "offers", 100, "Number of offers to generate")
	flag.IntVar(&opts.burstMakers, "burst-makers", 2, "Makers that cancel in a burst (fires freq_cancel)")
	flag.IntVar(&opts.burstSize, "burst-size", 6, "Cancellations per burst maker")
	flag.Float64Var(&opts.redeliverRatio, "redeliver-ratio", 0.1, "Fraction of events published twice")
	flag.BoolVar(&opts.shuffle, "shuffle", false, "Publish in random order instead of ledger order")
	flag.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()
	opts.startMs = events.NowMillis()

	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		log.Fatalf("Invalid parameters: %v", err)
	}

	evs := generateEvents(opts)
	log.Printf("Generated %d events for %d offers (seed %d)", len(evs), opts.offers, opts.seed)

	brokerList := kafkautil.ParseBrokers(brokers)
	if len(brokerList) == 0 {
		log.Fatalf("No brokers in %q", brokers)
	}
	kafkautil.EnsureTopic(brokerList[0], topic)
	writer := kafkautil.NewKeyedWriter(brokerList, topic)
	defer writer.Close()

	ctx := context.Background()
	published := 0
	for start := 0; start < len(evs); start += batchSize {
		end := min(start+batchSize, len(evs))
		msgs := make([]kafka.Message, 0, end-start)
		for _, ev := range evs[start:end] {
			payload, err := events.EncodeNormalizedEvent(ev)
			if err != nil {
				log.Fatalf("Failed to encode event %s: %v", ev.EventID, err)
			}
			msgs = append(msgs, kafka.Message{Key: []byte(ev.OfferID), Value: payload})
		}
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			log.Fatalf("Failed to publish batch at %d: %v", start, err)
		}
		published += len(msgs)
		log.Printf("Published %d/%d events", published, len(evs))
	}

	log.Printf("Done")
}

// generateEvents builds offer lifecycles in ledger order, then applies redeliveries and,
// if requested, a shuffle.
func generateEvents(opts options) []*events.NormalizedEvent {
	rng := rand.New(rand.NewSource(opts.seed))
	var evs []*events.NormalizedEvent
	seq := uint64(1000)
	atMs := opts.startMs

	next := func(kind events.EventKind, offerID, maker string, taker *string, amountA, amountB uint64) {
		seq += uint64(rng.Intn(3) + 1)
		atMs += uint64(rng.Intn(2000) + 1)
		sig := fmt.Sprintf("sig%08d", seq)
		evs = append(evs, &events.NormalizedEvent{
			EventID:              events.EventID(sig, 0, 1),
			EventKind:            kind,
			Network:              "localnet",
			Sequence:             seq,
			TransactionSignature: sig,
			ContractID:           "escrow",
			OfferID:              offerID,
			Maker:                maker,
			Taker:                taker,
			AssetA:               assets[len(offerID)%len(assets)],
			AssetB:               assets[(len(offerID)+1)%len(assets)],
			AmountA:              events.FormatAmount(amountA),
			AmountB:              events.FormatAmount(amountB),
			CommitmentLevel:      "finalized",
			IngestedAtMs:         atMs,
		})
	}

	for i := 1; i <= opts.offers; i++ {
		offerID := fmt.Sprintf("%d", i)
		maker := makers[rng.Intn(len(makers))]
		amountA := uint64(rng.Intn(1_000_000) + 1)
		if rng.Intn(20) == 0 {
			amountA = largeAmount
		}
		amountB := uint64(rng.Intn(1_000_000) + 1)

		next(events.KindCreated, offerID, maker, nil, amountA, amountB)
		switch r := rng.Intn(10); {
		case r < 5:
			taker := events.StringPtr(fmt.Sprintf("taker%d", rng.Intn(50)))
			next(events.KindFilled, offerID, maker, taker, amountA, amountB)
		case r < 8:
			next(events.KindCancelled, offerID, maker, nil, amountA, amountB)
		}
	}

	offerID := opts.offers
	for m := 0; m < opts.burstMakers; m++ {
		maker := fmt.Sprintf("burstMaker%d", m)
		for c := 0; c < opts.burstSize; c++ {
			offerID++
			id := fmt.Sprintf("%d", offerID)
			next(events.KindCreated, id, maker, nil, 10, 10)
			next(events.KindCancelled, id, maker, nil, 10, 10)
		}
	}

	redeliveries := int(float64(len(evs)) * opts.redeliverRatio)
	for i := 0; i < redeliveries; i++ {
		evs = append(evs, evs[rng.Intn(len(evs))])
	}

	if opts.shuffle {
		rng.Shuffle(len(evs), func(i, j int) { evs[i], evs[j] = evs[j], evs[i] })
	}
	return evs
}

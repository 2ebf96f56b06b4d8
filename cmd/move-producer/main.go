package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

// MoveMessage is the move format the server's consumer reads
type MoveMessage struct {
	GameID     string `json:"game_id"`
	PlayerName string `json:"player_name"`
	Move       bool   `json:"move"`
}

// strategy picks a move: true defects, false cooperates
type strategy func() bool

func parseStrategy(name string) (strategy, error) {
	switch name {
	case "defect":
		return func() bool { return true }, nil
	case "cooperate":
		return func() bool { return false }, nil
	case "random":
		return func() bool { return rand.Intn(2) == 0 }, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// parseStrategies reads "alice=defect,bob=random" into per-player strategies
func parseStrategies(spec string, players []string, fallback strategy) (map[string]strategy, error) {
	out := make(map[string]strategy, len(players))
	for _, p := range players {
		out[p] = fallback
	}
	if spec == "" {
		return out, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("bad strategy %q, want player=strategy", pair)
		}
		s, err := parseStrategy(value)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "pd-moves", "Kafka topic")
	gamesFlag := flag.String("games", "", "Game IDs to play (comma-separated)")
	playersFlag := flag.String("players", "", "Two player names (comma-separated)")
	defaultStrategy := flag.String("strategy", "random", "Default strategy: defect, cooperate or random")
	strategies := flag.String("strategies", "", "Per-player strategies, e.g. alice=defect,bob=cooperate")
	rate := flag.Int("rate", 10, "Moves per second")
	flag.Parse()

	games := splitList(*gamesFlag)
	players := splitList(*playersFlag)
	if len(games) == 0 || len(players) != 2 || *rate <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	fallback, err := parseStrategy(*defaultStrategy)
	if err != nil {
		log.Fatal(err)
	}
	byPlayer, err := parseStrategies(*strategies, players, fallback)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Kafka move producer")
	fmt.Printf("  Brokers:   %s\n", *brokers)
	fmt.Printf("  Topic:     %s\n", *topic)
	fmt.Printf("  Games:     %d\n", len(games))
	fmt.Printf("  Players:   %s vs %s\n", players[0], players[1])
	fmt.Printf("  Moves/sec: %d\n", *rate)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	finish := func() {
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nCompleted. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	for _, gameID := range games {
		for _, player := range players {
			select {
			case <-sigChan:
				fmt.Println("\nShutting down...")
				finish()
				return
			case <-ticker.C:
			}

			msg := MoveMessage{GameID: gameID, PlayerName: player, Move: byPlayer[player]()}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}

			// keyed by game so both moves of a game share a partition
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(gameID),
				Value: sarama.ByteEncoder(data),
			}
		}
		fmt.Printf("\r  Progress: game %s queued", gameID)
	}

	finish()
}

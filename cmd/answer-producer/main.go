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

// AnswerSubmission represents an answer submission message
type AnswerSubmission struct {
	SessionID      string `json:"session_id"`
	PlayerID       string `json:"player_id"`
	QuestionIndex  int    `json:"question_index"`
	OptionIndex    int    `json:"option_index"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

func getPlayerID(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "trivia-answers", "Kafka topic")
	sessionID := flag.String("session", "game1", "Session ID")
	questionIndex := flag.Int("question", 0, "Question index to answer")
	totalPlayers := flag.Int("players", 500, "Number of simulated players")
	numOptions := flag.Int("options", 4, "Number of answer options")
	correctIndex := flag.Int("correct", 0, "Index of the correct option")
	correctRate := flag.Int("correct-rate", 60, "Percentage of players answering correctly")
	answersPerSecond := flag.Int("rate", 100, "Answers per second")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🎮 Trivia Answer Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Session:          %s\n", *sessionID)
	fmt.Printf("  Question:         %d\n", *questionIndex)
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Correct rate:     %d%%\n", *correctRate)
	fmt.Printf("  Answers/sec:      %d\n", *answersPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
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

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper
	sendMessage := func(submission AnswerSubmission) {
		data, err := json.Marshal(submission)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(submission.PlayerID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	// Simulated players answer in a random order with a response time
	// skewed toward the start of the question, like a real audience
	order := rand.Perm(*totalPlayers)
	interval := time.Second / time.Duration(*answersPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Printf("Submitting answers for %d players...\n", *totalPlayers)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	sent := 0
	elapsed := int64(0)

	finish := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nShutting down...")
			finish()
			return

		case <-ticker.C:
			if sent >= *totalPlayers {
				fmt.Println("\nAll players answered")
				finish()
				return
			}

			playerIdx := order[sent]

			// Pick the correct option at the configured rate, otherwise
			// a random wrong one
			optionIdx := *correctIndex
			if rand.Intn(100) >= *correctRate {
				optionIdx = rand.Intn(*numOptions - 1)
				if optionIdx >= *correctIndex {
					optionIdx++
				}
			}

			// Response time drifts with send order plus jitter
			elapsed += interval.Milliseconds()
			responseTime := elapsed + int64(rand.Intn(500))

			submission := AnswerSubmission{
				SessionID:      *sessionID,
				PlayerID:       getPlayerID(playerIdx),
				QuestionIndex:  *questionIndex,
				OptionIndex:    optionIdx,
				ResponseTimeMs: responseTime,
			}
			sendMessage(submission)
			sent++

			if sent%100 == 0 || sent == *totalPlayers {
				fmt.Printf("\r  Progress: %d/%d answers", sent, *totalPlayers)
			}
		}
	}
}

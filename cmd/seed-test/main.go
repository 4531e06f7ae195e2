package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// seed-test publishes a test paper from a JSON file, or a small demo paper
// when no file is given, and warms its cache entry.
func main() {
	file := flag.String("file", "", "JSON test paper to publish")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	paper := demoPaper()
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read paper file")
		}
		paper = &model.TestPaper{}
		if err := json.Unmarshal(data, paper); err != nil {
			log.Fatal().Err(err).Msg("Failed to parse paper file")
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	paperRepo := repository.NewPaperRepository(pool)
	paperService := service.NewPaperService(paperRepo, rdb, cfg.PaperCacheTTL, log)

	fmt.Printf("=== Publishing %q (%d questions) ===\n", paper.Title, len(paper.Questions))

	if err := paperRepo.CreatePublished(ctx, paper); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish test")
	}
	if err := paperService.Warm(ctx, paper.TestID); err != nil {
		log.Warn().Err(err).Msg("Failed to warm cache")
	}

	fmt.Printf("\nSeed completed! Test ID: %s\n", paper.TestID)
}

func demoPaper() *model.TestPaper {
	return &model.TestPaper{
		Title:           "Demo: Computer Networks",
		DurationSeconds: 600,
		Questions: []model.Question{
			{Text: "Which layer of the OSI model routes packets?", Choices: []string{"Physical", "Data link", "Network", "Transport"}, CorrectChoice: 2, Marks: 2},
			{Text: "What is the default port for HTTPS?", Choices: []string{"80", "443", "8080", "22"}, CorrectChoice: 1, Marks: 1},
			{Text: "Which protocol resolves IP addresses to MAC addresses?", Choices: []string{"DNS", "DHCP", "ARP", "ICMP"}, CorrectChoice: 2, Marks: 2},
			{Text: "How many usable hosts does a /30 subnet have?", Choices: []string{"1", "2", "4", "6"}, CorrectChoice: 1, Marks: 1},
		},
	}
}

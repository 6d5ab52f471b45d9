// Command seed creates demo accounts and prints a bearer token for each.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/aaronwang/campus-auction/internal/auth"
	"github.com/aaronwang/campus-auction/internal/config"
	"github.com/aaronwang/campus-auction/internal/database"
	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/google/uuid"
)

func main() {
	users := flag.String("users", "owl,fox,bear", "comma separated nicknames to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewPostgresClient(cfg.PostgresURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize schema: %v\n", err)
		os.Exit(1)
	}

	store := database.NewReputationStore(db)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	for _, nickname := range strings.Split(*users, ",") {
		nickname = strings.TrimSpace(nickname)
		if nickname == "" {
			continue
		}
		// stable ids so re-running the seed keeps reputation
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("campus-auction/"+nickname)).String()
		user, err := store.UpsertUser(ctx, id, nickname)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", nickname, err)
			os.Exit(1)
		}
		token, err := tokens.Issue(models.Identity{ID: user.ID, Nickname: user.Nickname})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token for %s: %v\n", nickname, err)
			os.Exit(1)
		}
		fmt.Printf("%s\t%s\treputation=%d\n%s\n\n", user.Nickname, user.ID, user.ReputationScore, token)
	}
}

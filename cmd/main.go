package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Iemontine/microblog/cmd/api"
	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/cmd/seed"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/Iemontine/microblog/config"
	"github.com/Iemontine/microblog/db"
	"github.com/Iemontine/microblog/service/avatar"
	"github.com/Iemontine/microblog/service/forum"
	"github.com/Iemontine/microblog/service/user"
	"github.com/Iemontine/microblog/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "microblog",
		Short:        "Community joke board",
		SilenceUsage: true,
		// Bare invocation starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database tables and public directories",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(func(cfg *config.Config, DB *gorm.DB) error {
					return runMigrations(cfg, DB)
				})
			},
		},
		newSeedCommand(),
		newAvatarsCommand(),
		newClearCommand(),
	)
	return cmd
}

// withDatabase loads the config, opens the database and closes it after fn.
func withDatabase(fn func(cfg *config.Config, DB *gorm.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	DB, err := db.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("database initialization error: %w", err)
	}
	defer db.Close(DB)
	log.Printf("Connected to the %s database", cfg.DBDriver)

	return fn(cfg, DB)
}

func runMigrations(cfg *config.Config, DB *gorm.DB) error {
	log.Println("Starting database migrations...")
	if err := db.Migrate(DB); err != nil {
		return err
	}

	for _, dir := range []string{cfg.AvatarDir(), cfg.UploadDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create directory %s: %w", dir, err)
		}
		log.Printf("Directory %s created/verified", dir)
	}

	log.Println("All migrations and directory setup completed successfully")
	return nil
}

func runServer(ctx context.Context) error {
	return withDatabase(func(cfg *config.Config, DB *gorm.DB) error {
		if err := runMigrations(cfg, DB); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return api.NewApiServer(cfg, DB).Run(ctx)
	})
}

// accountService builds the account service the CLI commands share.
func accountService(cfg *config.Config, DB *gorm.DB) (*user.Service, *store.Gorm, error) {
	gormStore := store.NewGorm(DB)
	avatars, err := avatar.NewGenerator(cfg.AvatarDir(), "/images", avatar.DefaultSize)
	if err != nil {
		return nil, nil, err
	}
	users := user.NewService(gormStore.Accounts(), gormStore.Posts(), avatars, utils.NewMailer("", 0, "", ""))
	return users, gormStore, nil
}

func newSeedCommand() *cobra.Command {
	var fixturePath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sample accounts and posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if fixturePath != "" {
				var err error
				if data, err = os.ReadFile(fixturePath); err != nil {
					return fmt.Errorf("read fixture: %w", err)
				}
			}
			fixture, err := seed.Parse(data)
			if err != nil {
				return err
			}

			return withDatabase(func(cfg *config.Config, DB *gorm.DB) error {
				if err := runMigrations(cfg, DB); err != nil {
					return err
				}
				users, gormStore, err := accountService(cfg, DB)
				if err != nil {
					return err
				}
				images := utils.NewImageStore(cfg.UploadDir(), "/uploads")
				posting := forum.NewService(gormStore.Accounts(), gormStore.Posts(), images, nil)
				accounts, posts, err := seed.Run(cmd.Context(), fixture, users, posting)
				if err != nil {
					return err
				}
				log.Printf("Seeded %d accounts and %d posts", accounts, posts)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fixturePath, "fixture", "", "YAML fixture to load instead of the built-in sample")
	return cmd
}

func newAvatarsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "avatars",
		Short: "Generate avatars for accounts that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(cfg *config.Config, DB *gorm.DB) error {
				users, _, err := accountService(cfg, DB)
				if err != nil {
					return err
				}
				n, err := users.BackfillAvatars(cmd.Context())
				if err != nil {
					return err
				}
				log.Printf("Generated %d avatars", n)
				return nil
			})
		},
	}
}

func newClearCommand() *cobra.Command {
	var (
		yes    bool
		tables string
	)

	cmd := &cobra.Command{
		Use:   "clear-db",
		Short: "Drop tables (all of them unless --tables is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("Are you sure you want to clear the database? (yes/no): ")
				answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				if strings.TrimSpace(answer) != "yes" {
					log.Println("Database clearing cancelled.")
					return nil
				}
			}

			selected, err := tablesByName(tables)
			if err != nil {
				return err
			}

			return withDatabase(func(cfg *config.Config, DB *gorm.DB) error {
				log.Println("Dropping tables...")
				if err := db.Drop(DB, selected...); err != nil {
					return err
				}
				log.Println("Database cleared successfully")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().StringVar(&tables, "tables", "", "comma separated tables to drop: accounts, posts, likes")
	return cmd
}

func tablesByName(names string) ([]interface{}, error) {
	if strings.TrimSpace(names) == "" {
		return nil, nil
	}

	var tables []interface{}
	for _, name := range strings.Split(names, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "accounts":
			tables = append(tables, &models.Account{})
		case "posts":
			tables = append(tables, &models.Post{})
		case "likes":
			tables = append(tables, &models.Like{})
		default:
			return nil, fmt.Errorf("unknown table: %s", name)
		}
	}
	return tables, nil
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	hutchlog "github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
	"github.com/cuemby/hutch/pkg/users"
)

var (
	username    = flag.String("u", "", "Username for the admin account (required, at least 3 characters)")
	password    = flag.String("p", "", "Password for the admin account (required, at least 6 characters)")
	email       = flag.String("e", "", "Email address (optional)")
	displayName = flag.String("d", "", "Display name (optional)")
	dbPath      = flag.String("db", "", "Path to the hutch database (default: $DATABASE_URL, then ./hutch.db)")
)

// hutch-admin bootstraps the first admin account directly in the store.
// The register API only mints regular users, so a fresh deployment needs
// this once before anything else.
func main() {
	flag.Usage = usage
	flag.Parse()

	log.SetFlags(0)
	hutchlog.Init(hutchlog.Config{Level: hutchlog.WarnLevel, Output: os.Stderr})

	if *username == "" || *password == "" {
		usage()
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		path = os.Getenv("DATABASE_URL")
	}
	if path == "" {
		path = "./hutch.db"
	}

	store, err := storage.NewBoltStore(path)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", path, err)
	}
	defer store.Close()

	mgr := users.NewManager(store, nil, nil, users.DefaultConfig())
	admin, err := mgr.Register(*username, *password, *email, *displayName, types.RoleAdmin)
	if err != nil {
		log.Fatalf("Failed to create admin: %v", err)
	}

	log.Println("✓ Admin account created")
	log.Printf("  ID:       %s", admin.ID)
	log.Printf("  Username: %s", admin.Username)
	if admin.Email != "" {
		log.Printf("  Email:    %s", admin.Email)
	}
	if admin.DisplayName != "" {
		log.Printf("  Name:     %s", admin.DisplayName)
	}
	log.Printf("  Role:     %s", admin.Role)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Create the initial hutch admin account.

Usage:
  hutch-admin -u USERNAME -p PASSWORD [-e EMAIL] [-d DISPLAY_NAME] [-db PATH]

The database path falls back to the DATABASE_URL environment variable,
then to ./hutch.db.

Flags:
`)
	flag.PrintDefaults()
}

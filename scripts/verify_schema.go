package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := "./data/options-core.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"users", "session_states", "signals"} {
		rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if rows.Next() {
			fmt.Printf("✓ %s table exists\n", table)
		} else {
			fmt.Printf("❌ %s table MISSING\n", table)
		}
		rows.Close()
	}

	var sqlSchema string
	err = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='users'").Scan(&sqlSchema)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if strings.Contains(sqlSchema, "push_token") {
		fmt.Println("✓ push_token column exists")
	} else {
		fmt.Println("❌ push_token column MISSING")
	}
}

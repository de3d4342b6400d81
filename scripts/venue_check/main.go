// Connectivity check against the venue websocket: authenticate, select
// the practice balance, fetch a candle batch and print the balance.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"options-core/pkg/venue"
)

func main() {
	wsURL := os.Getenv("VENUE_WS_URL")
	identifier := os.Getenv("VENUE_IDENTIFIER")
	secret := os.Getenv("VENUE_SECRET")
	if wsURL == "" || identifier == "" || secret == "" {
		log.Fatal("VENUE_WS_URL, VENUE_IDENTIFIER and VENUE_SECRET must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gw := venue.NewFactory(wsURL)(venue.Credentials{Identifier: identifier, Secret: secret})
	defer gw.Close()

	if err := gw.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	fmt.Println("✓ connected and authenticated")

	if err := gw.SelectMode(venue.ModePractice); err != nil {
		log.Fatalf("select practice mode: %v", err)
	}
	fmt.Println("✓ practice balance selected")

	balance, currency, err := gw.Balance(ctx)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	fmt.Printf("✓ balance: %.2f %s\n", balance, currency)

	candles, err := gw.FetchCandles(ctx, "EURUSD-OTC", 60, 5)
	if err != nil {
		log.Fatalf("candles: %v", err)
	}
	fmt.Printf("✓ fetched %d candles, last close %.5f\n", len(candles), candles[len(candles)-1].Close)
}

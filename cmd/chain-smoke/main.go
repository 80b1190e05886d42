// chain-smoke checks a registry deployment from the command line: dial
// the endpoint, confirm contract code is present and optionally read a
// display id back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"affidblock.io/internal/chain"
)

func main() {
	log.SetFlags(0)
	var (
		rpcURL    = flag.String("rpc", os.Getenv("CHAIN_RPC_URL"), "EVM JSON-RPC endpoint")
		contract  = flag.String("contract", os.Getenv("REGISTRY_ADDRESS"), "Registry contract address")
		displayID = flag.String("display-id", "", "Optional display id to read back, e.g. AFD-2026-01J8ZQ4R9X")
		timeout   = flag.Duration("timeout", 15*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *rpcURL == "" || *contract == "" {
		log.Fatal("usage: chain-smoke -rpc <url> -contract <address> [-display-id <id>]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := chain.Dial(ctx, *rpcURL, *contract, "")
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	fmt.Printf("registry %s reachable\n", *contract)

	if *displayID == "" {
		return
	}
	rec, err := client.Record(ctx, *displayID)
	if err != nil {
		log.Fatalf("read %s: %v", *displayID, err)
	}
	if !rec.Exists {
		fmt.Printf("%s: no ledger record\n", *displayID)
		return
	}
	fmt.Printf("%s: anchored\n", *displayID)
	fmt.Printf("  title:       %s\n", rec.Title)
	fmt.Printf("  category:    %s\n", rec.Category)
	fmt.Printf("  declaration: %s\n", rec.Declaration)
	fmt.Printf("  doc hash:    %s\n", rec.DocumentHash)
}

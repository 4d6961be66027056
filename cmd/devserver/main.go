package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"

	"geocam/internal/devserver"
)

func main() {
	addr := flag.String("addr", ":8090", "Listen address")
	batchFile := flag.String("batches", "", "JSON file with seed batches")
	flag.Parse()

	batches := defaultBatches()
	if *batchFile != "" {
		data, err := os.ReadFile(*batchFile)
		if err != nil {
			log.Fatal(err)
		}
		batches = nil
		if err := json.Unmarshal(data, &batches); err != nil {
			log.Fatal(err)
		}
	}

	s := devserver.New(devserver.DefaultConfig(), batches)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", s.Router()))
	mux.Handle("/health", s.Router())

	log.Println("Dev verification server running on", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

// defaultBatches seeds a few items covering the interesting server states.
func defaultBatches() []devserver.Batch {
	return []devserver.Batch{
		{DinaID: "DINA-LJH001A7X9K2M", SeriesName: "Atelier Series", BatchID: "BATCH-001", Shipped: true},
		{DinaID: "DINA-LJH002B8Y0L3N", SeriesName: "Atelier Series", BatchID: "BATCH-001", Shipped: false},
		{DinaID: "DINA-LJH003C9Z1M4P", SeriesName: "Studio Series", BatchID: "BATCH-002", Shipped: true, Locked: true},
	}
}

// command gatectl is the gate controller firmware core: it opens the
// two flash regions, boots the key store and config store, starts the
// gate FSM and the debounced input reader, and then blocks in
// ServeConnections, which has no wireless transport wired in and so
// services no connections.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatectl: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	log.Println("gatectl: loading...")

	p, err := Init()
	if err != nil {
		return fmt.Errorf("gatectl: %w", err)
	}
	defer p.Close()

	ctrl, err := Boot(p)
	if err != nil {
		return fmt.Errorf("gatectl: %w", err)
	}
	log.Printf("gatectl: %d enrolled credentials, programming mode = %v", ctrl.KS.Len(), ctrl.ProgrammingMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ctrl.FSM.Run(ctx)
	if err := ctrl.StartInputs(p); err != nil {
		return fmt.Errorf("gatectl: %w", err)
	}

	log.Println("gatectl: ready")
	ctrl.ServeConnections(ctx)
	return nil
}

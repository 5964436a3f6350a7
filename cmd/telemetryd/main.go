package main

import (
	"log"

	"github.com/austindbirch/harbor_pulse/cmd/telemetryd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"log"
	"os"

	"latch/cmd/internal/app"
)

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/lk2023060901/hermes-chat-go/application"
)

func main() {
	app := application.New()
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "hermes: %v\n", err)
		os.Exit(1)
	}
}

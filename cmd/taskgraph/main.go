package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; anything it sets feeds config through the environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := Execute(ctx)
	stop()
	os.Exit(code)
}

package main

import "telegram-vocab-card-bot/internal/app"

func main() {
	app.Main()
}

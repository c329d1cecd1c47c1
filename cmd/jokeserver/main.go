// Command jokeserver serves random jokes from PostgreSQL and manages the
// schema and seed data behind them.
package main

import "github.com/aqasim81/joke-server/internal/cli"

func main() {
	cli.Execute()
}

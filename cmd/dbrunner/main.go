// Command dbrunner applies SQL migrations and environment seeds.
package main

import "github.com/aqasim81/dbrunner/internal/cli"

func main() {
	cli.Execute()
}

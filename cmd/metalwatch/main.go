package main

import "metal-price-alerts/internal/cli"

func main() {
	cli.Execute()
}

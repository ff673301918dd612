package main

import "github.com/everifyng/everify-backend/api"

func main() {
	server := api.NewServer(".")
	server.Start()
}

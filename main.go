/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/reeltask/authserver/cmd"

func main() {
	cmd.Execute()
}

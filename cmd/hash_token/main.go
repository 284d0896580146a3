// hash_token prints the bcrypt hash to put in TM_OPERATOR_TOKEN_HASH.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/robkhoughton/trainingmonkey/pkg"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	fmt.Fprint(os.Stderr, "operator token: ")
	token, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && token == "" {
		fmt.Fprintf(os.Stderr, "read token: %s\n", err)
		os.Exit(1)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		fmt.Fprintln(os.Stderr, "empty token")
		os.Exit(1)
	}

	hash, err := pkg.HashSecret(token, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash token: %s\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

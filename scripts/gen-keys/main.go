// Small helper to generate dev ECDSA keys (secp256k1) for a local rootchain
// and print, per role:
// - private key (hex)
// - Ethereum address derived from public key
//
// The operator address goes into rootchain.operator (or
// ROOTCHAIN_ROOTCHAIN_OPERATOR); user addresses can be funded through
// assets.balances.
package main

import (
	"flag"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

func gen(label string) {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	priv := fmt.Sprintf("%x", crypto.FromECDSA(key))
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	fmt.Printf("%s_PRIV=%s\n%s_ADDR=%s\n\n", label, priv, label, addr)
}

func main() {
	users := flag.Int("users", 2, "number of user keys")
	flag.Parse()

	gen("OPERATOR")
	for i := 1; i <= *users; i++ {
		gen(fmt.Sprintf("USER%d", i))
	}
}

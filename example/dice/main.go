//go:build wasip1

// A minimal guest: rolls a verifiable die seeded by the request input and
// refunds half the attached payment on a six.
package main

import (
	"encoding/json"
	"log"

	"github.com/near-outlayer/execution-plane/sdk/outlayer"
)

func main() {
	seed := string(outlayer.Input())

	random, err := outlayer.VRF(seed)
	if err != nil {
		log.Fatalf("vrf: %v", err)
	}
	roll := int(random.Output[0]%6) + 1

	if roll == 6 {
		if err := outlayer.RefundUSD(1); err != nil {
			log.Printf("refund: %v", err)
		}
	}

	result, _ := json.Marshal(map[string]any{
		"roll":      roll,
		"proof":     random.Signature,
		"alpha":     random.Alpha,
		"publicKey": outlayer.VRFPublicKey(),
	})
	outlayer.Output(result)
}

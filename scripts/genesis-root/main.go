// genesis-root computes the state root of a child-chain genesis file, the
// value the rootchain commits as block 0 (rootchain.genesis_state_root).
//
// With -config the root is written into that rootchain config file in place,
// keeping its comments and layout; otherwise it is printed.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"gopkg.in/yaml.v3"
)

func main() {
	genesisPath := flag.String("genesis", "", "child-chain genesis.json")
	configPath := flag.String("config", "", "rootchain config to update (optional)")
	flag.Parse()

	if *genesisPath == "" {
		log.Fatalf("usage: genesis-root -genesis <genesis.json> [-config <config.yaml>]")
	}

	root, err := stateRoot(*genesisPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *configPath == "" {
		fmt.Println(root.Hex())
		return
	}
	if err := patchConfig(*configPath, root); err != nil {
		log.Fatalf("update %s: %v", *configPath, err)
	}
	fmt.Printf("rootchain.genesis_state_root=%s written to %s\n", root.Hex(), *configPath)
}

func stateRoot(path string) (common.Hash, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read genesis: %w", err)
	}
	var g core.Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return common.Hash{}, fmt.Errorf("decode genesis: %w", err)
	}
	if len(g.Alloc) == 0 {
		return common.Hash{}, errors.New("genesis has no alloc")
	}
	return g.ToBlock().Root(), nil
}

// patchConfig sets rootchain.genesis_state_root, creating the keys when
// missing.
func patchConfig(path string, root common.Hash) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	if doc.Kind != yaml.DocumentNode || doc.Content[0].Kind != yaml.MappingNode {
		return errors.New("config is not a mapping")
	}

	section := child(doc.Content[0], "rootchain", yaml.MappingNode)
	if section.Kind != yaml.MappingNode {
		// "rootchain:" with no body decodes as a null scalar.
		*section = yaml.Node{Kind: yaml.MappingNode}
	}
	value := child(section, "genesis_state_root", yaml.ScalarNode)
	value.Tag = "!!str"
	value.Value = root.Hex()

	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, out.Bytes(), 0o644)
}

func child(m *yaml.Node, key string, kind yaml.Kind) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	v := &yaml.Node{Kind: kind}
	m.Content = append(m.Content, k, v)
	return v
}

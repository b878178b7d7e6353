package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

// proposalFile is the --proposals document: either a list under
// "proposals:" or a bare list. Entries may be plain strings.
type proposalFile struct {
	Proposals []proposalEntry `yaml:"proposals"`
}

type proposalEntry struct {
	domain.Proposal
}

func (e *proposalEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Text = strings.TrimSpace(node.Value)
		return nil
	}
	var p domain.Proposal
	if err := node.Decode(&p); err != nil {
		return err
	}
	e.Proposal = p
	return nil
}

func loadProposals(path string) ([]domain.Proposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseProposals(data)
}

func parseProposals(data []byte) ([]domain.Proposal, error) {
	var entries []proposalEntry
	var doc proposalFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Proposals) > 0 {
		entries = doc.Proposals
	} else if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing proposals: %w", err)
	}

	out := make([]domain.Proposal, 0, len(entries))
	for i, e := range entries {
		p := e.Proposal
		p.Title = strings.TrimSpace(p.Title)
		p.Text = strings.TrimSpace(p.Text)
		if p.Title == "" && p.Text == "" {
			return nil, fmt.Errorf("proposal %d is empty", i+1)
		}
		out = append(out, p)
	}
	return out, nil
}

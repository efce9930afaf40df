package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/securewatch/securewatch/internal/decision"
	"github.com/securewatch/securewatch/internal/risk"
)

// Scenario modes.
const (
	ModeNormal           = "normal"
	ModeVerifiedSafe     = "verified-safe"
	ModeFraudRing        = "fraud-ring"
	ModeBot              = "bot"
	ModeImpossibleTravel = "impossible-travel"
	ModeBurst            = "burst"
)

// Modes lists every scenario in help order.
var Modes = []string{ModeNormal, ModeVerifiedSafe, ModeFraudRing, ModeBot, ModeImpossibleTravel, ModeBurst}

const featureCount = 8

var testUsers = []string{"alice", "bob", "charlie", "dave", "eve", "frank", "grace", "heidi"}

type city struct {
	name string
	ip   string
}

var cities = []city{
	{"New York", "192.168.1.101"},
	{"London", "192.168.1.102"},
	{"Tokyo", "192.168.1.103"},
	{"Paris", "192.168.1.104"},
	{"Sydney", "192.168.1.105"},
	{"Berlin", "192.168.1.106"},
	{"Beijing", "192.168.1.107"},
	{"Moscow", "192.168.1.108"},
	{"Brazil", "192.168.1.109"},
	{"Cairo", "192.168.1.110"},
}

var devices = []string{"Chrome on Windows", "Safari on iPhone", "Firefox on Linux", "Edge on Windows", "Pixel 8"}

// Options shape a scenario.
type Options struct {
	Count     int
	User      string
	GroupSize int
	Email     string
}

// Build returns the login requests for mode, in send order.
func Build(mode string, opts Options, rng *rand.Rand) ([]decision.Request, error) {
	count := max(opts.Count, 1)
	var reqs []decision.Request

	switch mode {
	case ModeNormal, ModeBurst:
		for range count {
			reqs = append(reqs, normalLogin(rng, pick(rng, testUsers), opts.Email))
		}

	case ModeVerifiedSafe:
		for range count {
			r := normalLogin(rng, userOr(rng, opts.User), opts.Email)
			r.Features[0] = risk.DefaultVerifiedSafeSentinel
			reqs = append(reqs, r)
		}

	case ModeFraudRing:
		// One shared address, many identities; the first is a known ring member.
		size := max(opts.GroupSize, 1)
		shared := pick(rng, cities)
		users := append([]string{risk.DefaultFraudRing[0]}, testUsers...)
		for i := range size {
			r := normalLogin(rng, users[i%len(users)], opts.Email)
			r.IP, r.Location = shared.ip, shared.name
			reqs = append(reqs, r)
		}

	case ModeBot:
		// Identical scripted actions from a single identity.
		user := userOr(rng, opts.User)
		action := []float64{1, 0, 0, 1}
		for range count {
			r := normalLogin(rng, user, opts.Email)
			r.SequenceData = [][]float64{action, action, action, action, action}
			reqs = append(reqs, r)
		}

	case ModeImpossibleTravel:
		user := userOr(rng, opts.User)
		first := normalLogin(rng, user, opts.Email)
		first.IP, first.Location = cities[0].ip, cities[0].name
		second := normalLogin(rng, user, opts.Email)
		second.IP, second.Location = cities[2].ip, cities[2].name
		second.Features[0] = risk.DefaultImpossibleTravelSentinel
		reqs = append(reqs, first, second)

	default:
		return nil, fmt.Errorf("unknown mode %q (want one of %v)", mode, Modes)
	}
	return reqs, nil
}

// normalLogin has in-range features and a varied action history.
func normalLogin(rng *rand.Rand, user, email string) decision.Request {
	c := pick(rng, cities)
	features := make([]float64, featureCount)
	for i := range features {
		// Kept away from the fast-path markers at 0.1 and 100.
		features[i] = 0.2 + rng.Float64()*1.2
	}
	seq := make([][]float64, 6)
	for i := range seq {
		seq[i] = []float64{float64(i), rng.Float64()}
	}
	return decision.Request{
		UserID:       user,
		Features:     features,
		SequenceData: seq,
		TargetEmail:  email,
		IP:           c.ip,
		Location:     c.name,
		Device:       pick(rng, devices),
	}
}

func userOr(rng *rand.Rand, user string) string {
	if user != "" {
		return user
	}
	return pick(rng, testUsers)
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

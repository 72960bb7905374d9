package auth

import (
	"encoding/binary"
	"math/rand"
	"net"
	"sync"
)

// DefaultIPPoolSize is the number of addresses generated for the shared pool
const DefaultIPPoolSize = 50

// DefaultUserIPPoolSize is the number of addresses each user samples
const DefaultUserIPPoolSize = 5

type ipRange struct {
	start uint32
	end   uint32
}

// spoofRanges are private, CGNAT and link-local ranges
var spoofRanges = []ipRange{
	{ipToUint("10.0.0.0"), ipToUint("10.255.255.255")},
	{ipToUint("172.16.0.0"), ipToUint("172.31.255.255")},
	{ipToUint("192.168.0.0"), ipToUint("192.168.255.255")},
	{ipToUint("100.64.0.0"), ipToUint("100.127.255.255")},
	{ipToUint("169.254.0.0"), ipToUint("169.254.255.255")},
}

// IPPool is a shared pool of fake client addresses used to spread load
// across rate-limit buckets that key on forwarded client IP headers
type IPPool struct {
	mu        sync.Mutex
	ips       []string
	rotations int
	rng       *rand.Rand
}

// NewIPPool generates size random addresses and shuffles them
func NewIPPool(size int, rng *rand.Rand) *IPPool {
	if size <= 0 {
		size = DefaultIPPoolSize
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	ips := make([]string, 0, size)
	for i := 0; i < size; i++ {
		r := spoofRanges[rng.Intn(len(spoofRanges))]
		n := r.start + uint32(rng.Int63n(int64(r.end-r.start)+1))
		ips = append(ips, uintToIP(n))
	}
	rng.Shuffle(len(ips), func(i, j int) { ips[i], ips[j] = ips[j], ips[i] })

	return &IPPool{ips: ips, rng: rng}
}

// Size returns the number of addresses in the pool
func (p *IPPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ips)
}

// Rotations returns how many times users picked a new address
func (p *IPPool) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

// UserPool samples n distinct addresses for one simulated user
func (p *IPPool) UserPool(n int) *UserIPPool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 {
		n = DefaultUserIPPoolSize
	}
	if n > len(p.ips) {
		n = len(p.ips)
	}

	perm := p.rng.Perm(len(p.ips))
	ips := make([]string, n)
	for i := 0; i < n; i++ {
		ips[i] = p.ips[perm[i]]
	}

	return &UserIPPool{parent: p, ips: ips, rng: rand.New(rand.NewSource(p.rng.Int63()))}
}

// UserIPPool is the small per-user address subset. Not safe for concurrent use;
// each simulated user owns one.
type UserIPPool struct {
	parent  *IPPool
	ips     []string
	index   int
	current string
	rng     *rand.Rand
}

// IPs returns the user's addresses
func (u *UserIPPool) IPs() []string {
	return append([]string(nil), u.ips...)
}

// Next advances round-robin and returns the next address
func (u *UserIPPool) Next() string {
	if len(u.ips) == 0 {
		return ""
	}
	u.index = (u.index + 1) % len(u.ips)
	u.current = u.ips[u.index]
	return u.current
}

// Random assigns a random address from the user's pool and counts the rotation
func (u *UserIPPool) Random() string {
	if len(u.ips) == 0 {
		return ""
	}
	u.current = u.ips[u.rng.Intn(len(u.ips))]

	u.parent.mu.Lock()
	u.parent.rotations++
	u.parent.mu.Unlock()

	return u.current
}

// Current returns the last assigned address
func (u *UserIPPool) Current() string {
	return u.current
}

// SpoofHeaders returns the forwarding headers common proxies and CDNs read
func SpoofHeaders(ip string) map[string]string {
	return map[string]string{
		"X-Forwarded-For":  ip,
		"X-Real-IP":        ip,
		"X-Client-IP":      ip,
		"X-Originating-IP": ip,
		"CF-Connecting-IP": ip,
	}
}

func ipToUint(s string) uint32 {
	return binary.BigEndian.Uint32(net.ParseIP(s).To4())
}

func uintToIP(n uint32) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip.String()
}

// InSpoofRanges reports whether ip belongs to one of the generated ranges
func InSpoofRanges(ip string) bool {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return false
	}
	n := binary.BigEndian.Uint32(parsed)
	for _, r := range spoofRanges {
		if n >= r.start && n <= r.end {
			return true
		}
	}
	return false
}

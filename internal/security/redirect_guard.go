// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultRedirectHosts はバックエンドが返すGitHub関連URLとして許可するホスト。
var DefaultRedirectHosts = []string{"github.com"}

// blockedNetworks はリダイレクト先として拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（メタデータIPを含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// RedirectGuard はバックエンドから受け取ったURLへユーザーを誘導する前に検証する。
// コンソール自身はこれらのURLへ接続しない。
type RedirectGuard struct {
	allowedHosts []string
}

// NewRedirectGuard はRedirectGuardを生成する。
// allowedHostsが空の場合はDefaultRedirectHostsを使用する。サブドメインも許可する。
func NewRedirectGuard(allowedHosts ...string) *RedirectGuard {
	if len(allowedHosts) == 0 {
		allowedHosts = DefaultRedirectHosts
	}
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		hosts = append(hosts, strings.ToLower(strings.TrimSpace(h)))
	}
	return &RedirectGuard{allowedHosts: hosts}
}

// ValidateRedirect はURLがhttpsかつ許可ホストであることを検証する。
func (g *RedirectGuard) ValidateRedirect(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q (allowed: https)", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("userinfo is not allowed in redirect URL")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return fmt.Errorf("IP address hosts are not allowed: %s", host)
	}
	if host == "localhost" {
		return fmt.Errorf("blocked host: %s", host)
	}

	for _, allowed := range g.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("host is not allowed: %s", host)
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

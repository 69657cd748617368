package browser

import (
	"net/url"
	"strings"
)

// chromeFlag is one parsed Chromium switch. Value is true for bare switches.
type chromeFlag struct {
	Name  string
	Value any
}

// proxyAuth holds credentials taken out of --proxy-server. Chromium
// ignores userinfo in that switch, so they are answered on auth challenges.
type proxyAuth struct {
	Username string
	Password string
}

// parseArgs turns "--name=value" / "--name" strings into flags. Later
// duplicates win. Userinfo in --proxy-server is stripped and returned.
func parseArgs(args []string) ([]chromeFlag, *proxyAuth) {
	var (
		flags []chromeFlag
		index = make(map[string]int)
		auth  *proxyAuth
	)
	for _, raw := range args {
		arg := strings.TrimLeft(strings.TrimSpace(raw), "-")
		if arg == "" {
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		f := chromeFlag{Name: name, Value: true}
		if hasValue {
			f.Value = value
		}
		if name == "proxy-server" && hasValue {
			stripped, a := stripProxyAuth(value)
			f.Value = stripped
			if a != nil {
				auth = a
			}
		}
		if i, ok := index[name]; ok {
			flags[i] = f
			continue
		}
		index[name] = len(flags)
		flags = append(flags, f)
	}
	return flags, auth
}

func stripProxyAuth(server string) (string, *proxyAuth) {
	u, err := url.Parse(server)
	if err != nil || u.User == nil || u.Host == "" {
		return server, nil
	}
	pass, _ := u.User.Password()
	auth := &proxyAuth{Username: u.User.Username(), Password: pass}
	u.User = nil
	return u.String(), auth
}

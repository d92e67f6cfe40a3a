package steamtrade

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/escrow-tf/steamtrade/api"
	"github.com/escrow-tf/steamtrade/steamid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// WebSession is the cookie/session identity shared by every client on one
// transport. Obtaining the access token is a login concern outside this
// module; the session only installs and inspects it.
type WebSession struct {
	transport   api.Transport
	steamId     steamid.SteamID
	accessToken string
	tokenClaims *jwt.Token
}

// NewWebSession installs the steamLoginSecure and sessionid cookies for an
// already-authenticated account on the transport's jar.
func NewWebSession(transport api.Transport, steamId steamid.SteamID, accessToken string) (*WebSession, error) {
	if !steamId.IsValidIndividual() {
		return nil, eris.Errorf("steamid %s is not a valid individual account", steamId.String())
	}

	tokenClaims, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return nil, eris.Wrapf(err, "access token was invalid JWT")
	}

	if _, err := tokenClaims.Claims.GetExpirationTime(); err != nil {
		return nil, eris.Wrapf(err, "access token was missing expiration claim")
	}

	session := &WebSession{
		transport:   transport,
		steamId:     steamId,
		accessToken: accessToken,
		tokenClaims: tokenClaims,
	}

	if err := session.installCookies(); err != nil {
		return nil, err
	}

	return session, nil
}

func (w *WebSession) installCookies() error {
	sessionIdBuffer := [12]byte{}
	_, err := rand.Read(sessionIdBuffer[:])
	if err != nil {
		return eris.Errorf("error creating sessionid bytes: %v", err)
	}

	sessionIdBytes := make([]byte, hex.EncodedLen(len(sessionIdBuffer)))
	_ = hex.Encode(sessionIdBytes, sessionIdBuffer[:])

	steamLoginSecure := fmt.Sprintf("%s||%s", w.steamId.String(), w.accessToken)
	cookieUrl := &url.URL{Scheme: "https", Host: "steamcommunity.com", Path: "/"}
	w.transport.CookieJar().SetCookies(cookieUrl, []*http.Cookie{
		{
			Name:  "sessionid",
			Value: string(sessionIdBytes),
		},
		{
			Name:  "steamLoginSecure",
			Value: url.QueryEscape(steamLoginSecure),
		},
	})

	return nil
}

func (w *WebSession) SteamId() steamid.SteamID {
	return w.steamId
}

// AccessTokenValid reports whether the installed token is still inside its
// expiration claim. An expired token means every community call will bounce
// with NotLoggedOn until the caller re-authenticates and builds a new
// session.
func (w *WebSession) AccessTokenValid(at time.Time) (bool, error) {
	expiration, err := w.tokenClaims.Claims.GetExpirationTime()
	if err != nil {
		return false, eris.Wrapf(err, "access token was missing expiration claim")
	}

	return at.Before(expiration.Time), nil
}

// SessionId returns the sessionid cookie value community POST endpoints
// require as a form field.
func (w *WebSession) SessionId() (string, error) {
	steamUrl := &url.URL{Scheme: "https", Host: "steamcommunity.com", Path: "/"}
	steamCookies := w.transport.CookieJar().Cookies(steamUrl)
	for _, cookie := range steamCookies {
		if strings.ToLower(cookie.Name) == "sessionid" {
			return cookie.Value, nil
		}
	}

	return "", eris.New("could not find sessionid cookie")
}

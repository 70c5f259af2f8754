package sipua

import (
	"fmt"

	"github.com/ghettovoice/gosip/sip"
	"github.com/icholy/digest"
)

// challengeHeaders returns the challenge header of res and the header the
// answer goes into.
func challengeHeaders(res sip.Response) (challenge, answer string) {
	if res.StatusCode() == 407 {
		return "Proxy-Authenticate", "Proxy-Authorization"
	}
	return "WWW-Authenticate", "Authorization"
}

// credentials answers a digest challenge for method and uri.
func credentials(challenge, method, uri, username, password string) (string, error) {
	chal, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("invalid challenge %q: %w", challenge, err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", err
	}
	return cred.String(), nil
}

// authorize returns a copy of req answering the challenge in res, with a new
// branch and the next CSeq.
func authorize(req sip.Request, res sip.Response, username, password string) (sip.Request, error) {
	challengeName, answerName := challengeHeaders(res)
	hdrs := res.GetHeaders(challengeName)
	if len(hdrs) == 0 {
		return nil, fmt.Errorf("%d response without %s header", res.StatusCode(), challengeName)
	}

	value, err := credentials(hdrs[0].Value(), string(req.Method()), req.Recipient().String(), username, password)
	if err != nil {
		return nil, err
	}

	out := sip.CopyRequest(req)
	out.RemoveHeader(answerName)
	out.AppendHeader(&sip.GenericHeader{HeaderName: answerName, Contents: value})

	if viaHop, ok := out.ViaHop(); ok {
		viaHop.Params.Add("branch", sip.String{Str: sip.GenerateBranch()})
	}
	if cseq, ok := out.CSeq(); ok {
		cseq.SeqNo++
	}
	return out, nil
}

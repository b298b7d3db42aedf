package netconf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

type helloMessage struct {
	XMLName      xml.Name `xml:"hello"`
	Capabilities []string `xml:"capabilities>capability"`
	SessionID    string   `xml:"session-id,omitempty"`
}

type rpcReply struct {
	XMLName   xml.Name    `xml:"rpc-reply"`
	MessageID string      `xml:"message-id,attr"`
	OK        *struct{}   `xml:"ok"`
	Errors    []*RPCError `xml:"rpc-error"`
	Data      *replyData  `xml:"data"`
}

type replyData struct {
	Inner []byte `xml:",innerxml"`
}

// clientHello is sent verbatim on every new session.
func clientHello() []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, `<hello xmlns="%s"><capabilities>`, BaseNamespace)
	for _, c := range []string{CapBase10, CapBase11} {
		fmt.Fprintf(&b, "<capability>%s</capability>", c)
	}
	b.WriteString("</capabilities></hello>")
	return b.Bytes()
}

func parseHello(msg []byte) (*helloMessage, error) {
	var h helloMessage
	if err := xml.Unmarshal(msg, &h); err != nil {
		return nil, fmt.Errorf("%w: parse hello: %v", ErrProtocol, err)
	}
	if len(h.Capabilities) == 0 {
		return nil, fmt.Errorf("%w: hello carries no capabilities", ErrProtocol)
	}
	return &h, nil
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		// Capabilities may carry query parameters.
		c = strings.TrimSpace(c)
		if c == want || strings.HasPrefix(c, want+"?") {
			return true
		}
	}
	return false
}

func rpcMessage(id uint64, body string) []byte {
	return []byte(fmt.Sprintf(`<rpc message-id="%d" xmlns="%s">%s</rpc>`, id, BaseNamespace, body))
}

func getBody(f Filter) (string, error) {
	switch f.Type {
	case FilterSubtree:
		if strings.TrimSpace(f.Body) == "" {
			return "<get/>", nil
		}
		return `<get><filter type="subtree">` + f.Body + `</filter></get>`, nil
	case FilterXPath:
		var sel bytes.Buffer
		if err := xml.EscapeText(&sel, []byte(f.Body)); err != nil {
			return "", err
		}
		return `<get><filter type="xpath" select="` + sel.String() + `"/></get>`, nil
	default:
		return "", fmt.Errorf("netconf: unsupported filter type %q", f.Type)
	}
}

func editConfigBody(target string, config []byte) (string, error) {
	switch target {
	case DatastoreRunning, DatastoreCandidate, DatastoreStartup:
	default:
		return "", fmt.Errorf("netconf: unsupported edit-config target %q", target)
	}
	return "<edit-config><target><" + target + "/></target>" + string(config) + "</edit-config>", nil
}

func parseReply(msg []byte, wantID uint64) (*rpcReply, error) {
	var r rpcReply
	if err := xml.Unmarshal(msg, &r); err != nil {
		return nil, fmt.Errorf("%w: parse rpc-reply: %v", ErrProtocol, err)
	}
	if r.MessageID != "" && r.MessageID != fmt.Sprint(wantID) {
		return nil, fmt.Errorf("%w: rpc-reply message-id %s, want %d", ErrProtocol, r.MessageID, wantID)
	}
	return &r, nil
}

// err returns the error-severity <rpc-error> elements; warnings are ignored.
func (r *rpcReply) err() error {
	var errs RPCErrors
	for _, e := range r.Errors {
		if strings.TrimSpace(e.Severity) == "warning" {
			continue
		}
		errs = append(errs, e)
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errs
	}
}

// dataDocument rebuilds the <data> element of a <get> reply as a standalone
// document in the base namespace.
func (r *rpcReply) dataDocument() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<data xmlns="%s">`, BaseNamespace)
	if r.Data != nil {
		b.Write(r.Data.Inner)
	}
	b.WriteString("</data>")
	return b.Bytes()
}

package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PUBREC 发布收到报文 (QoS 2, 第一步确认)
//
// MQTT v3.1.1: 参考章节 3.5 PUBREC - Publish received (QoS 2 publish received, part 1)
// MQTT v5.0: 参考章节 3.5 PUBREC - Publish received (QoS 2 publish received, part 1)
//
// 报文结构:
// 固定报头: 报文类型0x05，标志位必须为0
// 可变报头: 报文标识符、原因码(v5.0)、发布收到属性(v5.0)
// 载荷: 无载荷
//
// 用途:
// - 确认一个QoS 2的PUBLISH报文已经被接收
// - 接收方在发出PUBREC后，必须丢弃其它所有该报文标识符下的状态，等待PUBREL
//
// 标志位规则:
// - DUP: 必须为0
// - QoS: 必须为0
// - RETAIN: 必须为0
type PUBREC struct {
	*FixedHeader

	// PacketID 报文标识符，必须与对应的PUBLISH报文一致
	PacketID uint16

	// ReasonCode 原因码 (v5.0新增)
	// 常见值:
	// - 0x00: 成功
	// - 0x10: 无匹配订阅者
	// - 0x80: 未指定错误
	// - 0x91: 报文标识符已被占用
	ReasonCode ReasonCode

	// Props 发布收到属性 (v5.0新增)
	Props *PubrecProperties
}

func (pkt *PUBREC) Kind() byte {
	return 0x5
}

func (pkt *PUBREC) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if pkt.FixedHeader == nil {
		return fmt.Errorf("FixedHeader is nil")
	}
	// 确保标志位正确设置
	pkt.Dup = 0
	pkt.QoS = 0
	pkt.Retain = 0
	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 {
		buf.WriteByte(pkt.ReasonCode.Code)
		if pkt.Props == nil {
			pkt.Props = &PubrecProperties{}
		}
		b, err := pkt.Props.Pack()
		if err != nil {
			return err
		}
		propsLen, err := encodeLength(len(b))
		if err != nil {
			return err
		}
		buf.Write(propsLen)
		buf.Write(b)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBREC) Unpack(buf *bytes.Buffer) error {
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))

	// MQTT-v5 allows omitting the reason code and properties entirely when
	// the reason is success (0x00) and no properties are present.
	if pkt.Version == VERSION500 && pkt.RemainingLength > 2 {
		pkt.ReasonCode.Code = buf.Next(1)[0]
		pkt.Props = &PubrecProperties{}
		if pkt.RemainingLength > 3 {
			if err := pkt.Props.Unpack(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// PubrecProperties 发布收到属性 (v5.0新增)
type PubrecProperties struct {
	// ReasonString 原因字符串，属性标识符 0x1F
	ReasonString string

	// UserProperty 用户属性，属性标识符 0x26，可重复出现
	UserProperty map[string][]string
}

func (props *PubrecProperties) Pack() ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if props.ReasonString != "" {
		buf.WriteByte(0x1F)
		buf.Write(encodeUTF8(props.ReasonString))
	}

	for k, values := range props.UserProperty {
		for _, v := range values {
			buf.WriteByte(0x26)
			buf.Write(encodeUTF8(k))
			buf.Write(encodeUTF8(v))
		}
	}

	return bytes.Clone(buf.Bytes()), nil
}

func (props *PubrecProperties) Unpack(buf *bytes.Buffer) error {
	propsLen, err := decodeLength(buf)
	if err != nil {
		return err
	}
	lr := io.LimitReader(buf, int64(propsLen))
	lbuf := new(bytes.Buffer)
	if _, err := lbuf.ReadFrom(lr); err != nil {
		return err
	}
	for lbuf.Len() > 0 {
		propsId, err := decodeLength(lbuf)
		if err != nil {
			return err
		}
		switch propsId {
		case 0x1F:
			props.ReasonString, _ = decodeUTF8[string](lbuf)
		case 0x26:
			k, _ := decodeUTF8[string](lbuf)
			v, _ := decodeUTF8[string](lbuf)
			if props.UserProperty == nil {
				props.UserProperty = map[string][]string{}
			}
			props.UserProperty[k] = append(props.UserProperty[k], v)
		default:
			return fmt.Errorf("unknown property identifier: 0x%02X", propsId)
		}
	}
	return nil
}

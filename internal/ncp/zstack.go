package ncp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	szcl "github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/global"
	"github.com/shimmeringbee/zigbee"
	"github.com/shimmeringbee/zstack"
	"go.bug.st/serial"

	"zigbee-efekta/internal/zcl"
)

// coordinatorEP is the adapter endpoint registered on the Z-Stack NCP.
const coordinatorEP = 1

// ZStackNCP drives a TI Z-Stack coordinator through shimmeringbee/zstack.
type ZStackNCP struct {
	port   serial.Port
	z      *zstack.ZStack
	reg    *szcl.CommandRegistry
	logger *slog.Logger

	zclSeq atomic.Uint32

	// Read responses keyed by ZCL transaction sequence.
	zclPending map[uint8]chan *global.ReadAttributesResponse
	zclMu      sync.Mutex

	handlerMu  sync.RWMutex
	onJoined   func(DeviceJoinedEvent)
	onLeft     func(DeviceLeftEvent)
	onAnnounce func(DeviceAnnounceEvent)
	onReport   func(AttributeReportEvent)

	infoMu    sync.Mutex
	info      NetworkInfo
	joinTimer *time.Timer

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewZStackNCP opens the serial port. The radio is not touched until Start.
func NewZStackNCP(portName string, baudRate int, logger *slog.Logger) (*ZStackNCP, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("zstack ncp: open %s: %w", portName, err)
	}
	// CC253x sticks hold the chip in reset until RTS is asserted.
	_ = port.SetRTS(true)

	return &ZStackNCP{
		port:       port,
		z:          zstack.New(port, zstack.NewNodeTable()),
		reg:        newCommandRegistry(),
		logger:     logger,
		zclPending: make(map[uint8]chan *global.ReadAttributesResponse),
		done:       make(chan struct{}),
	}, nil
}

func newCommandRegistry() *szcl.CommandRegistry {
	reg := szcl.NewCommandRegistry()
	global.Register(reg)
	return reg
}

func (n *ZStackNCP) nextZCLSeq() uint8 {
	return uint8(n.zclSeq.Add(1))
}

// Start initialises the adapter (forming or resuming the network), registers
// the coordinator endpoint and starts the event loop.
func (n *ZStackNCP) Start(ctx context.Context, cfg NetworkConfig) error {
	err := n.z.Initialise(ctx, zigbee.NetworkConfiguration{
		PANID:         zigbee.PANID(cfg.PanID),
		ExtendedPANID: zigbee.ExtendedPANID(cfg.ExtPanID),
		NetworkKey:    cfg.NetworkKey,
		Channel:       cfg.Channel,
	})
	if err != nil {
		return fmt.Errorf("zstack ncp: initialise: %w", err)
	}
	err = n.z.RegisterAdapterEndpoint(ctx, coordinatorEP, zigbee.ProfileHomeAutomation, 1, 1,
		[]zigbee.ClusterID{}, []zigbee.ClusterID{})
	if err != nil {
		return fmt.Errorf("zstack ncp: register endpoint: %w", err)
	}

	n.infoMu.Lock()
	n.info = NetworkInfo{Channel: cfg.Channel, PanID: cfg.PanID, ExtPanID: cfg.ExtPanID}
	n.infoMu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(1)
	go n.readLoop(loopCtx)

	n.logger.Info("zstack network up", "channel", cfg.Channel, "pan_id", fmt.Sprintf("0x%04X", cfg.PanID))
	return nil
}

func (n *ZStackNCP) readLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		event, err := n.z.ReadEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn("zstack read event", "err", err)
			continue
		}

		n.dispatch(event)
	}
}

// dispatch routes one adapter event. NodeUpdateEvent is not forwarded:
// zstack raises it for every received frame and LQI poll, while real
// announces arrive as NodeJoinEvent.
func (n *ZStackNCP) dispatch(event any) {
	n.handlerMu.RLock()
	onJoined, onLeft := n.onJoined, n.onLeft
	n.handlerMu.RUnlock()

	switch e := event.(type) {
	case zigbee.NodeJoinEvent:
		if onJoined != nil {
			onJoined(DeviceJoinedEvent{ShortAddr: uint16(e.Node.NetworkAddress), IEEE: uint64(e.Node.IEEEAddress)})
		}
	case zigbee.NodeLeaveEvent:
		if onLeft != nil {
			onLeft(DeviceLeftEvent{ShortAddr: uint16(e.Node.NetworkAddress), IEEE: uint64(e.Node.IEEEAddress)})
		}
	case zigbee.NodeIncomingMessageEvent:
		n.handleIncoming(e.IncomingMessage)
	}
}

func (n *ZStackNCP) handleIncoming(msg zigbee.IncomingMessage) {
	message, err := n.reg.Unmarshal(msg.ApplicationMessage)
	if err != nil {
		n.logger.Debug("zstack unmarshal", "cluster", fmt.Sprintf("0x%04X", uint16(msg.ApplicationMessage.ClusterID)), "err", err)
		return
	}

	switch cmd := message.Command.(type) {
	case *global.ReportAttributes:
		evt := AttributeReportEvent{
			IEEE:      uint64(msg.SourceAddress.IEEEAddress),
			SrcEP:     uint8(message.SourceEndpoint),
			ClusterID: uint16(message.ClusterID),
			LQI:       msg.LinkQuality,
		}
		for _, r := range cmd.Records {
			dt := uint8(r.DataTypeValue.DataType)
			raw, err := zcl.EncodeValue(dt, r.DataTypeValue.Value)
			if err != nil {
				n.logger.Warn("zstack report value", "attr", fmt.Sprintf("0x%04X", uint16(r.Identifier)), "err", err)
				continue
			}
			evt.Records = append(evt.Records, AttributeRecord{AttrID: uint16(r.Identifier), DataType: dt, Value: raw})
		}
		n.handlerMu.RLock()
		onReport := n.onReport
		n.handlerMu.RUnlock()
		if onReport != nil && len(evt.Records) > 0 {
			onReport(evt)
		}

	case *global.ReadAttributesResponse:
		n.zclMu.Lock()
		ch, ok := n.zclPending[message.TransactionSequence]
		n.zclMu.Unlock()
		if ok {
			select {
			case ch <- cmd:
			default:
			}
		}

	case *global.DefaultResponse:
		if cmd.Status != 0 {
			n.logger.Debug("zstack default response",
				"cluster", fmt.Sprintf("0x%04X", uint16(message.ClusterID)),
				"command", cmd.CommandIdentifier, "status", cmd.Status)
		}
	}
}

func (n *ZStackNCP) PermitJoin(ctx context.Context, duration uint8) error {
	n.infoMu.Lock()
	defer n.infoMu.Unlock()
	if n.joinTimer != nil {
		n.joinTimer.Stop()
		n.joinTimer = nil
	}
	if duration == 0 {
		n.info.PermitJoin = false
		return n.z.DenyJoin(ctx)
	}
	if err := n.z.PermitJoin(ctx, true); err != nil {
		return fmt.Errorf("zstack ncp: permit join: %w", err)
	}
	n.info.PermitJoin = true
	// Z-Stack has no timed permit; close it ourselves.
	n.joinTimer = time.AfterFunc(time.Duration(duration)*time.Second, func() {
		denyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.z.DenyJoin(denyCtx); err != nil {
			n.logger.Warn("zstack deny join", "err", err)
		}
		n.infoMu.Lock()
		n.info.PermitJoin = false
		n.infoMu.Unlock()
	})
	return nil
}

func (n *ZStackNCP) NetworkInfo() *NetworkInfo {
	n.infoMu.Lock()
	defer n.infoMu.Unlock()
	info := n.info
	return &info
}

func (n *ZStackNCP) ActiveEndpoints(ctx context.Context, ieee uint64) ([]uint8, error) {
	eps, err := n.z.QueryNodeEndpoints(ctx, zigbee.IEEEAddress(ieee))
	if err != nil {
		return nil, fmt.Errorf("zstack ncp: active endpoints %s: %w", FormatIEEE(ieee), err)
	}
	out := make([]uint8, len(eps))
	for i, ep := range eps {
		out[i] = uint8(ep)
	}
	return out, nil
}

func (n *ZStackNCP) Bind(ctx context.Context, req BindRequest) error {
	err := n.z.BindNodeToController(ctx, zigbee.IEEEAddress(req.IEEE),
		zigbee.Endpoint(req.SrcEP), zigbee.Endpoint(req.DstEP), zigbee.ClusterID(req.ClusterID))
	if err != nil {
		return fmt.Errorf("zstack ncp: bind 0x%04X: %w", req.ClusterID, err)
	}
	return nil
}

// RemoveDevice asks the device to leave the network.
func (n *ZStackNCP) RemoveDevice(ctx context.Context, ieee uint64) error {
	if err := n.z.RequestNodeLeave(ctx, zigbee.IEEEAddress(ieee)); err != nil {
		return fmt.Errorf("zstack ncp: leave %s: %w", FormatIEEE(ieee), err)
	}
	return nil
}

func (n *ZStackNCP) send(ctx context.Context, ieee uint64, message szcl.Message, ack bool) error {
	appMsg, err := n.reg.Marshal(message)
	if err != nil {
		return fmt.Errorf("zstack ncp: marshal: %w", err)
	}
	return n.z.SendApplicationMessageToNode(ctx, zigbee.IEEEAddress(ieee), appMsg, ack)
}

func (n *ZStackNCP) globalMessage(seq uint8, cluster uint16, dstEP uint8, id szcl.CommandIdentifier, cmd any) szcl.Message {
	return szcl.Message{
		FrameType:           szcl.FrameGlobal,
		Direction:           szcl.ClientToServer,
		TransactionSequence: seq,
		Manufacturer:        zigbee.NoManufacturer,
		ClusterID:           zigbee.ClusterID(cluster),
		SourceEndpoint:      zigbee.Endpoint(coordinatorEP),
		DestinationEndpoint: zigbee.Endpoint(dstEP),
		CommandIdentifier:   id,
		Command:             cmd,
	}
}

func (n *ZStackNCP) ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]AttributeResponse, error) {
	ids := make([]szcl.AttributeID, len(req.AttrIDs))
	for i, a := range req.AttrIDs {
		ids[i] = szcl.AttributeID(a)
	}

	seq := n.nextZCLSeq()
	ch := make(chan *global.ReadAttributesResponse, 1)
	n.zclMu.Lock()
	n.zclPending[seq] = ch
	n.zclMu.Unlock()
	defer func() {
		n.zclMu.Lock()
		delete(n.zclPending, seq)
		n.zclMu.Unlock()
	}()

	msg := n.globalMessage(seq, req.ClusterID, req.DstEP, global.ReadAttributesID, &global.ReadAttributes{Identifier: ids})
	if err := n.send(ctx, req.IEEE, msg, false); err != nil {
		return nil, fmt.Errorf("zstack ncp: read attributes: %w", err)
	}

	select {
	case resp := <-ch:
		var out []AttributeResponse
		for _, r := range resp.Records {
			ar := AttributeResponse{AttrID: uint16(r.Identifier), Status: r.Status}
			if r.Status == zcl.ZCLStatusSuccess {
				ar.DataType = uint8(r.DataTypeValue.DataType)
				raw, err := zcl.EncodeValue(ar.DataType, r.DataTypeValue.Value)
				if err != nil {
					n.logger.Warn("zstack read value", "attr", fmt.Sprintf("0x%04X", ar.AttrID), "err", err)
					continue
				}
				ar.Value = raw
			}
			out = append(out, ar)
		}
		return out, nil
	case <-ctx.Done():
		n.logger.Warn("ZCL read attrs timeout",
			"ieee", FormatIEEE(req.IEEE),
			"cluster", fmt.Sprintf("0x%04X", req.ClusterID))
		return nil, ctx.Err()
	case <-n.done:
		return nil, errors.New("ncp closed")
	}
}

func (n *ZStackNCP) WriteAttributes(ctx context.Context, req WriteAttributesRequest) error {
	records := make([]global.WriteAttributesRecord, 0, len(req.Records))
	for _, r := range req.Records {
		v, err := wireValue(r.DataType, r.Value)
		if err != nil {
			return fmt.Errorf("zstack ncp: write 0x%04X: %w", r.AttrID, err)
		}
		records = append(records, global.WriteAttributesRecord{
			Identifier:    szcl.AttributeID(r.AttrID),
			DataTypeValue: &szcl.AttributeDataTypeValue{DataType: szcl.AttributeDataType(r.DataType), Value: v},
		})
	}
	msg := n.globalMessage(n.nextZCLSeq(), req.ClusterID, req.DstEP, global.WriteAttributesID,
		&global.WriteAttributes{Records: records})
	if err := n.send(ctx, req.IEEE, msg, true); err != nil {
		return fmt.Errorf("zstack ncp: write attributes: %w", err)
	}
	return nil
}

func (n *ZStackNCP) ConfigureReporting(ctx context.Context, req ConfigureReportingRequest) error {
	msg, err := n.configureReportingMessage(n.nextZCLSeq(), req)
	if err != nil {
		return err
	}
	if err := n.send(ctx, req.IEEE, msg, true); err != nil {
		return fmt.Errorf("zstack ncp: configure reporting: %w", err)
	}
	return nil
}

func (n *ZStackNCP) configureReportingMessage(seq uint8, req ConfigureReportingRequest) (szcl.Message, error) {
	rec := global.ConfigureReportingRecord{
		Direction:       0x00,
		Identifier:      szcl.AttributeID(req.AttrID),
		DataType:        szcl.AttributeDataType(req.DataType),
		MinimumInterval: req.MinInterval,
		MaximumInterval: req.MaxInterval,
	}
	if req.ReportChange != nil {
		v, err := wireValue(req.DataType, req.ReportChange)
		if err != nil {
			return szcl.Message{}, fmt.Errorf("zstack ncp: reportable change: %w", err)
		}
		rec.ReportableChange = &szcl.AttributeDataValue{Value: v}
	}
	return n.globalMessage(seq, req.ClusterID, req.DstEP, global.ConfigureReportingID,
		&global.ConfigureReporting{Records: []global.ConfigureReportingRecord{rec}}), nil
}

// SendCommand builds the cluster-specific frame by hand: the command
// registry only knows the global commands.
func (n *ZStackNCP) SendCommand(ctx context.Context, req ClusterCommandRequest) error {
	frame := append([]byte{0x01, n.nextZCLSeq(), req.CommandID}, req.Payload...)
	appMsg := zigbee.ApplicationMessage{
		ClusterID:           zigbee.ClusterID(req.ClusterID),
		SourceEndpoint:      zigbee.Endpoint(coordinatorEP),
		DestinationEndpoint: zigbee.Endpoint(req.DstEP),
		Data:                frame,
	}
	if err := n.z.SendApplicationMessageToNode(ctx, zigbee.IEEEAddress(req.IEEE), appMsg, true); err != nil {
		return fmt.Errorf("zstack ncp: command 0x%02X: %w", req.CommandID, err)
	}
	return nil
}

func (n *ZStackNCP) OnDeviceJoined(handler func(DeviceJoinedEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onJoined = handler
}

func (n *ZStackNCP) OnDeviceLeft(handler func(DeviceLeftEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onLeft = handler
}

// OnDeviceAnnounce is kept for the NCP interface; Z-Stack delivers
// announces as joins.
func (n *ZStackNCP) OnDeviceAnnounce(handler func(DeviceAnnounceEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onAnnounce = handler
}

func (n *ZStackNCP) OnAttributeReport(handler func(AttributeReportEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onReport = handler
}

// Close stops the event loop and releases the serial port.
func (n *ZStackNCP) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		if n.cancel != nil {
			n.cancel()
		}
		n.infoMu.Lock()
		if n.joinTimer != nil {
			n.joinTimer.Stop()
		}
		n.infoMu.Unlock()
		err = n.port.Close()
		n.wg.Wait()
	})
	return err
}

// wireValue decodes raw ZCL bytes into the Go type the shimmeringbee codec
// marshals for dataType.
func wireValue(dataType uint8, raw []byte) (any, error) {
	v, _, err := zcl.DecodeValue(dataType, raw)
	if err != nil {
		return nil, err
	}
	switch dataType {
	case zcl.TypeEnum8:
		u, _ := zcl.ToUint64(v)
		return uint8(u), nil
	case zcl.TypeEnum16:
		u, _ := zcl.ToUint64(v)
		return uint16(u), nil
	}
	return v, nil
}

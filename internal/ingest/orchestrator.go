package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/grab/internal/collector"
	"github.com/roach88/grab/internal/dedupe"
	"github.com/roach88/grab/internal/logging"
	"github.com/roach88/grab/internal/media"
	"github.com/roach88/grab/internal/normalize"
	"github.com/roach88/grab/internal/store"
)

// ErrSystemic marks a failure that ends the run instead of the message.
var ErrSystemic = errors.New("systemic failure")

// DefaultSource is the run source when the request names none.
const DefaultSource = "all"

// MediaStore is the part of the media store the orchestrator uses.
type MediaStore interface {
	Save(ctx context.Context, req media.SaveRequest) (string, error)
	Download(ctx context.Context, req media.DownloadRequest) (string, error)
}

// RunRequest describes one run.
type RunRequest struct {
	// CorrelationID identifies the run. Empty means a new id is generated.
	// Reusing an id re-opens that run's ledger row.
	CorrelationID string
	// Source selects the stores kept (see normalize.StoreFilter).
	Source string
	// Since drops messages sent before it.
	Since *time.Time
	// MediaDownload enables link downloads and attachment saving.
	MediaDownload bool
	// MaxMessages caps the number of messages handled. Zero means no cap.
	MaxMessages int
}

// Orchestrator runs ingestion against one store.
type Orchestrator struct {
	store     *store.Store
	collector collector.Collector
	media     MediaStore
	parser    normalize.Parser
	validator *normalize.Validator
	ids       IDGenerator
	log       logrus.FieldLogger

	mediaTimeout  time.Duration
	mediaMaxBytes int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMedia sets the media store. Without one, runs skip media even when
// MediaDownload is set.
func WithMedia(m MediaStore) Option {
	return func(o *Orchestrator) { o.media = m }
}

// WithParser replaces normalize.ParseEmail.
func WithParser(p normalize.Parser) Option {
	return func(o *Orchestrator) { o.parser = p }
}

// WithIDGenerator replaces the UUIDv7 correlation id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithLogger sets the base logger; each run adds its correlation id.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMediaLimits sets the per-download timeout and size cap. Zero keeps the
// media package defaults.
func WithMediaLimits(timeout time.Duration, maxBytes int64) Option {
	return func(o *Orchestrator) {
		o.mediaTimeout = timeout
		o.mediaMaxBytes = maxBytes
	}
}

// New creates an Orchestrator reading from c and writing to st.
func New(st *store.Store, c collector.Collector, opts ...Option) (*Orchestrator, error) {
	validator, err := normalize.NewValidator()
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		store:     st,
		collector: c,
		parser:    normalize.ParseEmail,
		validator: validator,
		ids:       UUIDv7Generator{},
		log:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run performs one ingestion run and returns its counters. The error is
// non-nil only when the run failed as a whole; per-message failures are in
// Stats.Results.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (Stats, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = DefaultSource
	}
	filter, err := normalize.StoreFilter(source)
	if err != nil {
		return Stats{}, err
	}

	id := req.CorrelationID
	if id == "" {
		id = o.ids.Generate()
	}
	stats := Stats{CorrelationID: id, Status: store.RunRunning}
	rc := logging.NewRunContext(o.log, id)
	st := o.store.WithCorrelation(id)

	if _, err := st.StartSyncRun(ctx, id, source); err != nil {
		return stats, fmt.Errorf("run %s: %w", id, err)
	}
	rc.Log.WithFields(logrus.Fields{
		"source":         source,
		"media_download": req.MediaDownload,
	}).Info("run started")

	msgs, err := o.collector.Collect(ctx, req.Since)
	if err != nil {
		return o.fail(ctx, st, rc, stats, fmt.Errorf("collect: %w", err))
	}
	if req.MaxMessages > 0 && len(msgs) > req.MaxMessages {
		msgs = msgs[:req.MaxMessages]
	}
	stats.MessagesTotal = int64(len(msgs))

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, st, rc, stats, err)
		}
		res := o.processMessage(ctx, st, rc, req, filter, msg, &stats)
		stats.Results = append(stats.Results, res)
		if res.Err == nil {
			stats.MessagesProcessed++
			continue
		}
		if errors.Is(res.Err, ErrSystemic) {
			return o.fail(ctx, st, rc, stats, fmt.Errorf("message %s: %w", msg.MessageID, res.Err))
		}
		stats.Errors++
		rc.Log.WithError(res.Err).WithField("message_id", msg.MessageID).Error("message processing failed")
	}

	stats.Status = stats.status()
	if err := st.FinishSyncRun(ctx, id, stats.Status, stats, ""); err != nil {
		return stats, fmt.Errorf("run %s: %w", id, err)
	}
	rc.Log.WithFields(logrus.Fields{
		"status":   stats.Status,
		"messages": stats.MessagesTotal,
		"orders":   stats.OrdersUpserted,
		"items":    stats.ItemsUpserted,
		"errors":   stats.Errors,
	}).Info("run finished")
	return stats, nil
}

// fail records the run as failed. The ledger write ignores cancellation of
// ctx so a canceled run is still closed.
func (o *Orchestrator) fail(ctx context.Context, st *store.Store, rc logging.RunContext, stats Stats, cause error) (Stats, error) {
	stats.Errors++
	stats.Status = store.RunFailed
	rc.Log.WithError(cause).Error("run failed")

	err := fmt.Errorf("run %s: %w", rc.CorrelationID, cause)
	if ferr := st.FinishSyncRun(context.WithoutCancel(ctx), rc.CorrelationID, store.RunFailed, stats, cause.Error()); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return stats, err
}

func (o *Orchestrator) processMessage(
	ctx context.Context,
	st *store.Store,
	rc logging.RunContext,
	req RunRequest,
	filter string,
	msg normalize.Message,
	stats *Stats,
) MessageResult {
	res := MessageResult{MessageID: msg.MessageID}

	accountIdent := strings.TrimSpace(msg.Account)
	if accountIdent == "" {
		accountIdent = "unknown"
	}
	provider := strings.TrimSpace(msg.Provider)
	if provider == "" {
		provider = "unknown"
	}
	accountID, err := st.UpsertAccount(ctx, store.Account{
		Provider:    provider,
		Identifier:  accountIdent,
		DisplayName: accountIdent,
	})
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrSystemic, err)
		return res
	}

	rawID, err := st.UpsertRawMessage(ctx, store.RawMessage{
		Source:            msg.Source,
		AccountID:         &accountID,
		ExternalMessageID: msg.MessageID,
		ThreadID:          msg.ThreadID,
		MessageDate:       msg.SentAt,
		Subject:           msg.Subject,
		Sender:            msg.Sender,
		Recipients:        msg.Recipients,
		RawText:           msg.TextBody,
		RawHTML:           msg.HTMLBody,
		RawJSON:           msg.RawPayload,
	})
	if err != nil {
		res.Err = fmt.Errorf("raw message: %w", err)
		return res
	}

	orders, err := o.parser(msg)
	if err != nil {
		res.Err = fmt.Errorf("parse: %w", err)
		return res
	}
	for _, order := range orders {
		if err := o.validator.Validate(order); err != nil {
			res.Err = err
			return res
		}
	}

	log := rc.Log.WithField("message_id", msg.MessageID)
	for _, order := range orders {
		if filter != "" && order.StoreCode != filter {
			res.Skipped++
			log.WithField("store", order.StoreCode).Debug("order skipped by source filter")
			continue
		}
		w := orderWriter{
			o:         o,
			st:        st,
			log:       log.WithField("store", order.StoreCode),
			req:       req,
			msg:       msg,
			order:     order,
			accountID: accountID,
			rawID:     rawID,
			stats:     stats,
		}
		if err := w.write(ctx); err != nil {
			res.Err = err
			return res
		}
		res.Orders++
	}
	return res
}

// orderWriter persists one normalized order and its items, attributes and
// media.
type orderWriter struct {
	o         *Orchestrator
	st        *store.Store
	log       *logrus.Entry
	req       RunRequest
	msg       normalize.Message
	order     normalize.Order
	accountID int64
	rawID     int64
	stats     *Stats
}

func (w *orderWriter) write(ctx context.Context) error {
	order := w.order

	storeID, err := w.st.UpsertStore(ctx, store.Shop{Code: order.StoreCode, Name: order.StoreName})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSystemic, err)
	}

	var sellerID *int64
	if strings.TrimSpace(order.SellerName) != "" {
		id, err := w.st.UpsertSeller(ctx, store.Seller{
			StoreID:     storeID,
			Name:        order.SellerName,
			INN:         order.SellerINN,
			LegalEntity: order.SellerLegalEntity,
		})
		if err != nil {
			return err
		}
		sellerID = &id
	}

	accountID := w.accountID
	orderID, err := w.st.UpsertOrder(ctx, store.Order{
		StoreID:         storeID,
		AccountID:       &accountID,
		SellerID:        sellerID,
		ExternalOrderID: order.ExternalOrderID,
		DedupeKey: dedupe.OrderKey(dedupe.OrderIdentity{
			StoreCode:       order.StoreCode,
			ExternalOrderID: order.ExternalOrderID,
			SourceMessageID: order.SourceMessageID,
			OrderDate:       order.OrderDate,
			TotalAmount:     order.Total,
		}),
		OrderDate:     order.OrderDate,
		PaidDate:      order.PaidDate,
		DeliveredDate: order.DeliveredDate,
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Shipping:      order.Shipping,
		Discount:      order.Discount,
		Total:         order.Total,
		Status:        order.Status,
		SourceURL:     order.SourceURL,
		RawRef:        store.RawRef(w.rawID),
	})
	if err != nil {
		return err
	}
	w.stats.OrdersUpserted++

	orderRef := order.OrderRef()
	itemIDs := make([]int64, 0, len(order.Items))
	for i, item := range order.Items {
		itemID, err := w.writeItem(ctx, orderID, i, item)
		if err != nil {
			return err
		}
		itemIDs = append(itemIDs, itemID)
		w.stats.ItemsUpserted++

		if w.mediaEnabled() {
			for _, url := range item.MediaURLs {
				w.download(ctx, orderRef, itemID, url)
			}
		}
	}

	if w.mediaEnabled() && len(itemIDs) > 0 {
		for _, att := range w.msg.Attachments {
			w.saveAttachment(ctx, orderRef, itemIDs[0], att)
		}
	}
	return nil
}

func (w *orderWriter) writeItem(ctx context.Context, orderID int64, index int, item normalize.Item) (int64, error) {
	order := w.order

	productID, err := w.st.UpsertProduct(ctx, store.Product{
		CanonicalKey: dedupe.ProductKey(item.Brand, item.Model, item.SKU, item.TitleFull),
		TitleFull:    item.TitleFull,
		TitleShort:   item.TitleShort,
		Brand:        item.Brand,
		Model:        item.Model,
		SKU:          item.SKU,
	})
	if err != nil {
		return 0, err
	}

	currency := item.Currency
	if currency == "" {
		currency = order.Currency
	}
	itemID, err := w.st.UpsertOrderItem(ctx, store.OrderItem{
		OrderID:        orderID,
		ExternalItemID: item.ExternalItemID,
		DedupeKey: dedupe.ItemKey(dedupe.ItemIdentity{
			StoreCode:       order.StoreCode,
			ExternalItemID:  item.ExternalItemID,
			SourceMessageID: order.SourceMessageID,
			ItemIndex:       index,
			SKU:             item.SKU,
			OrderDate:       order.OrderDate,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
		}),
		ProductID:           &productID,
		TitleFull:           item.TitleFull,
		TitleShort:          item.TitleShort,
		StoreCategoryPath:   item.StoreCategoryPath,
		UnifiedCategoryPath: item.UnifiedCategoryPath,
		Brand:               item.Brand,
		Model:               item.Model,
		SKU:                 item.SKU,
		Quantity:            item.Quantity,
		UnitPrice:           item.UnitPrice,
		Discount:            item.Discount,
		Shipping:            item.Shipping,
		Total:               item.Total,
		Currency:            currency,
		ProductURL:          item.ProductURL,
		OrderURL:            item.OrderURL,
		ReceiptURL:          item.ReceiptURL,
	})
	if err != nil {
		return 0, err
	}

	for _, attr := range item.Attributes {
		_, err := w.st.UpsertProductAttribute(ctx, store.ProductAttribute{
			ProductID:    &productID,
			ItemID:       itemID,
			Key:          attr.Key,
			ValueKey:     dedupe.AttributeValueKey(attr.ValueText, attr.ValueNumber, attr.ValueBool),
			ValueType:    attr.ValueType,
			ValueText:    attr.ValueText,
			ValueNumber:  attr.ValueNumber,
			ValueBool:    attr.ValueBool,
			ValueJSONRaw: attr.ValueJSONRaw,
			Source:       attr.Source,
		})
		if err != nil {
			return 0, err
		}
	}
	return itemID, nil
}

func (w *orderWriter) mediaEnabled() bool {
	return w.req.MediaDownload && w.o.media != nil
}

func (w *orderWriter) download(ctx context.Context, orderRef string, itemID int64, url string) {
	_, err := w.o.media.Download(ctx, media.DownloadRequest{
		ItemID:    itemID,
		StoreCode: w.order.StoreCode,
		OrderRef:  orderRef,
		URL:       url,
		Source:    w.msg.Source + ":link",
		Timeout:   w.o.mediaTimeout,
		MaxBytes:  w.o.mediaMaxBytes,
	})
	if err != nil {
		w.stats.MediaFailed++
		w.log.WithError(err).WithFields(logrus.Fields{"item_id": itemID, "url": url}).Warn("media link download failed")
		return
	}
	w.stats.MediaSaved++
}

func (w *orderWriter) saveAttachment(ctx context.Context, orderRef string, itemID int64, att normalize.Attachment) {
	_, err := w.o.media.Save(ctx, media.SaveRequest{
		ItemID:    itemID,
		StoreCode: w.order.StoreCode,
		OrderRef:  orderRef,
		Data:      att.Data,
		Filename:  att.Filename,
		MIME:      att.ContentType,
		SourceURL: att.SourceURL,
		Source:    w.msg.Source + ":attachment",
	})
	if err != nil {
		w.stats.MediaFailed++
		w.log.WithError(err).WithFields(logrus.Fields{"item_id": itemID, "filename": att.Filename}).Warn("attachment save failed")
		return
	}
	w.stats.MediaSaved++
}
